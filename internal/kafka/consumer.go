package kafka

import (
	"context"
	"log"
	"time"

	"github.com/IBM/sarama"
	"github.com/goccy/go-json"

	"github.com/Capitan-Parrot/distributed-led-scanner/internal/models"
)

// Request is a decoded scan request. Ack marks the message as consumed and
// must be called once the request has been handled.
type Request struct {
	models.ScanRequest

	session sarama.ConsumerGroupSession
	message *sarama.ConsumerMessage
}

func (r Request) Ack() {
	if r.session != nil && r.message != nil {
		r.session.MarkMessage(r.message, "")
	}
}

// Consumer оборачивает Sarama ConsumerGroup
type Consumer struct {
	group    sarama.ConsumerGroup
	topic    string
	requests chan Request
	closed   chan struct{}
}

// NewConsumer создаёт и возвращает новый Consumer
func NewConsumer(brokers []string, groupID, topic string) (*Consumer, error) {
	config := sarama.NewConfig()
	config.Version = sarama.V2_6_0_0
	config.Consumer.Offsets.Initial = sarama.OffsetOldest

	group, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, err
	}

	return &Consumer{
		group:    group,
		topic:    topic,
		requests: make(chan Request),
		closed:   make(chan struct{}),
	}, nil
}

// StartListening запускает асинхронное потребление сообщений
func (c *Consumer) StartListening(ctx context.Context) {
	handler := &requestHandler{
		requests: c.requests,
		closed:   c.closed,
	}

	go func() {
		defer close(c.requests)

		retryDelay := time.Second * 5
		for {
			select {
			case <-ctx.Done():
				log.Println("Consumer: context cancelled, stopping")
				return
			default:
				log.Println("Consumer: starting consumption cycle")
				err := c.group.Consume(ctx, []string{c.topic}, handler)
				if err != nil {
					log.Printf("Consume error: %v, retrying in %v", err, retryDelay)
					select {
					case <-ctx.Done():
						return
					case <-time.After(retryDelay):
					}
					continue
				}

				if ctx.Err() != nil {
					return
				}
			}
		}
	}()
}

// Close останавливает потребитель и освобождает ресурсы
func (c *Consumer) Close() error {
	close(c.closed)
	return c.group.Close()
}

// Requests возвращает канал запросов на сканирование
func (c *Consumer) Requests() <-chan Request {
	return c.requests
}

// requestHandler реализует интерфейс sarama.ConsumerGroupHandler
type requestHandler struct {
	requests chan<- Request
	closed   <-chan struct{}
}

func (h *requestHandler) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

func (h *requestHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

func (h *requestHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}

			var req models.ScanRequest
			if err := json.Unmarshal(msg.Value, &req); err != nil || req.Action == "" {
				log.Printf("Consumer: skipping malformed request at offset %d: %v", msg.Offset, err)
				sess.MarkMessage(msg, "")
				continue
			}

			select {
			case h.requests <- Request{ScanRequest: req, session: sess, message: msg}:
				// подтверждение будет после обработки
			case <-sess.Context().Done():
				return nil
			case <-h.closed:
				return nil
			}
		case <-sess.Context().Done():
			return nil
		case <-h.closed:
			return nil
		}
	}
}
