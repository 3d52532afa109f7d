package kafka

import (
	"sync"

	"github.com/IBM/sarama"
)

// ErrorHandler 异步投递失败时的回调
type ErrorHandler func(topic string, err error)

// Producer 异步生产者，投递失败通过 ErrorHandler 上报
type Producer struct {
	asyncProducer sarama.AsyncProducer
	onError       ErrorHandler
	wg            sync.WaitGroup
}

// InitProducer 初始化生产者
func InitProducer(brokers []string, onError ErrorHandler) (*Producer, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = false
	config.Producer.Return.Errors = true
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Partitioner = sarama.NewHashPartitioner

	producer, err := sarama.NewAsyncProducer(brokers, config)
	if err != nil {
		return nil, err
	}
	return newProducer(producer, onError), nil
}

func newProducer(producer sarama.AsyncProducer, onError ErrorHandler) *Producer {
	p := &Producer{asyncProducer: producer, onError: onError}
	p.wg.Add(1)
	go p.drainErrors()
	return p
}

// drainErrors 必须持续读取错误通道，否则生产者会阻塞
func (p *Producer) drainErrors() {
	defer p.wg.Done()
	for perr := range p.asyncProducer.Errors() {
		if p.onError != nil && perr != nil {
			topic := ""
			if perr.Msg != nil {
				topic = perr.Msg.Topic
			}
			p.onError(topic, perr.Err)
		}
	}
}

// SendMessage 发送消息，同一个key落在同一分区
func (p *Producer) SendMessage(topic string, key, value []byte) error {
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.ByteEncoder(key),
		Value: sarama.ByteEncoder(value),
	}
	p.asyncProducer.Input() <- msg
	return nil
}

// Close 刷新缓冲并关闭生产者
func (p *Producer) Close() error {
	p.asyncProducer.AsyncClose()
	p.wg.Wait()
	return nil
}
