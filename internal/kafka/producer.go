package kafka

import (
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/IBM/sarama"
	"github.com/goccy/go-json"

	"github.com/Capitan-Parrot/distributed-led-scanner/internal/models"
)

const (
	headerEvent = "event"

	eventDetect = "detect"
	eventSkip   = "skip"
	eventDone   = "done"
)

// Producer publishes the observation stream and session reports. It is a
// scan.Sink: publish failures are logged and never stop a scan.
type Producer struct {
	producer         sarama.SyncProducer
	observationTopic string
	reportTopic      string
}

// NewProducer создаёт продюсер с настройками
func NewProducer(brokers []string, observationTopic, reportTopic string) (*Producer, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 3

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, err
	}
	return NewProducerFromSarama(producer, observationTopic, reportTopic), nil
}

func NewProducerFromSarama(producer sarama.SyncProducer, observationTopic, reportTopic string) *Producer {
	return &Producer{
		producer:         producer,
		observationTopic: observationTopic,
		reportTopic:      reportTopic,
	}
}

func (p *Producer) Close() error {
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("failed to close Kafka producer: %w", err)
	}
	return nil
}

// SendObservation отправляет наблюдение одного вида, ключ - id вида
func (p *Producer) SendObservation(obs models.Observation) error {
	payload, err := json.Marshal(obs)
	if err != nil {
		return err
	}

	event := eventDetect
	if obs.Point == nil {
		event = eventSkip
	}
	return p.send(p.observationTopic, strconv.Itoa(obs.ViewID), event, payload)
}

// SendReport публикует итоговый отчёт сессии
func (p *Producer) SendReport(report models.Report) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return err
	}
	return p.send(p.reportTopic, report.SessionID, "report", payload)
}

func (p *Producer) Put(obs models.Observation) {
	if err := p.SendObservation(obs); err != nil {
		log.Printf("Producer: failed to publish unit %d of view %d: %v", obs.UnitID, obs.ViewID, err)
	}
}

func (p *Producer) Done(viewID int) {
	payload, err := json.Marshal(struct {
		ViewID    int       `json:"view_id"`
		Timestamp time.Time `json:"timestamp"`
	}{viewID, time.Now()})
	if err == nil {
		err = p.send(p.observationTopic, strconv.Itoa(viewID), eventDone, payload)
	}
	if err != nil {
		log.Printf("Producer: failed to publish end of view %d: %v", viewID, err)
	}
}

func (p *Producer) send(topic, key, event string, payload []byte) error {
	kafkaMsg := &sarama.ProducerMessage{
		Topic:   topic,
		Key:     sarama.StringEncoder(key),
		Value:   sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{{Key: []byte(headerEvent), Value: []byte(event)}},
	}

	_, _, err := p.producer.SendMessage(kafkaMsg)
	return err
}
