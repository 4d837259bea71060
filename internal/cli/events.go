package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/shaiso/tta-agent/internal/mq"
	"github.com/shaiso/tta-agent/internal/trace"
)

// NewEventsCmd создаёт команду, которая печатает события run.finished из RabbitMQ.
//
// Команда объявляет временную exclusive-очередь, привязанную к exchange
// tta.runs, поэтому не отбирает сообщения у постоянных потребителей
// очереди runs.finished.
func NewEventsCmd(amqpURLFn func() string, outputFn func() *Output) *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Follow run.finished events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()
			logger := slog.New(slog.NewTextHandler(io.Discard, nil))

			conn, err := mq.NewConnection(amqpURLFn(), "tta-cli-events", logger)
			if err != nil {
				return fmt.Errorf("connect to rabbitmq: %w", err)
			}
			defer conn.Close()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			if err := mq.SetupTopology(ctx, conn); err != nil {
				return err
			}
			queue, err := mq.DeclareTapQueue(ctx, conn)
			if err != nil {
				return err
			}
			out.Success(fmt.Sprintf("Listening on %s (queue %s), Ctrl+C to stop", mq.ExchangeRuns, queue))

			printer := newEventPrinter(out, count, cancel)
			consumer := mq.NewConsumer(conn, logger, mq.ConsumerConfig{
				Queue:     string(queue),
				Handler:   printer.handle,
				Prefetch:  10,
				Exclusive: true,
			})

			err = consumer.Start(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	cmd.Flags().IntVar(&count, "count", 0, "Exit after N events (0 = follow forever)")

	return cmd
}

// eventPrinter печатает события и останавливает потребление после limit событий.
type eventPrinter struct {
	out   *Output
	limit int
	seen  int
	stop  context.CancelFunc
}

func newEventPrinter(out *Output, limit int, stop context.CancelFunc) *eventPrinter {
	return &eventPrinter{out: out, limit: limit, stop: stop}
}

func (p *eventPrinter) handle(_ context.Context, d *mq.Delivery) error {
	if d.Message.Type != mq.MessageTypeRunFinished {
		return nil
	}

	payload, err := mq.ParsePayload[mq.RunFinishedPayload](&d.Message)
	if err != nil {
		// Повторная доставка не исправит битый payload.
		p.out.Error(fmt.Sprintf("skip message %s: %v", d.Message.ID, err))
		return nil
	}

	p.print(payload.Trace)

	p.seen++
	if p.limit > 0 && p.seen >= p.limit {
		p.stop()
	}
	return nil
}

func (p *eventPrinter) print(t trace.Trace) {
	if p.out.JSONMode() {
		p.out.JSON(t)
		return
	}
	completed := ""
	if t.CompletedAt != nil {
		completed = t.CompletedAt.Format("2006-01-02T15:04:05.000Z07:00")
	}
	p.out.Line(fmt.Sprintf("%s\t%s\t%s/%s\tsteps=%d\t%s\t%s",
		completed, t.RunID, t.Who, t.Action, len(t.Steps), t.Status, t.Error))
}
