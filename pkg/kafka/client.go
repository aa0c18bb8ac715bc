// Package kafka 提供了与 Kafka 消息队列交互的功能:
// 对象存储事件的生产者，以及驱动处理管道的消费者。
package kafka

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"nutri-snap-go/internal/config"
	"nutri-snap-go/pkg/log"
	"nutri-snap-go/pkg/tasks"

	"github.com/segmentio/kafka-go"
)

// TaskProcessor 处理一条对象存储事件。消费者不依赖具体的管道实现。
type TaskProcessor interface {
	Process(ctx context.Context, event tasks.S3Event) error
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

func brokerList(brokers string) []string {
	var out []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// Producer 把对象存储事件写入主题，按对象键分区。
type Producer struct {
	writer messageWriter
}

// NewProducer 初始化 Kafka 生产者。
func NewProducer(cfg config.KafkaConfig) *Producer {
	w := &kafka.Writer{
		Addr:     kafka.TCP(brokerList(cfg.Brokers)...),
		Topic:    cfg.Topic,
		Balancer: &kafka.Hash{},
	}
	log.Info("Kafka 生产者初始化成功")
	return &Producer{writer: w}
}

// PublishEvent 校验并发送一条原始事件消息。
func (p *Producer) PublishEvent(ctx context.Context, raw []byte) error {
	ev, err := tasks.ParseS3Event(raw)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.PartitionKey()),
		Value: raw,
	})
}

// Close 刷新并关闭生产者。
func (p *Producer) Close() error {
	return p.writer.Close()
}

// Consumer 从主题读取事件并交给 TaskProcessor 处理。
//
// 可重试的失败会在本进程内退避重试，次数记录在 AttemptCounter 中，
// 达到 maxAttempts 后提交 offset 放弃该消息；不可重试的失败直接提交。
type Consumer struct {
	reader      messageReader
	processor   TaskProcessor
	attempts    AttemptCounter
	retryable   func(error) bool
	maxAttempts int
	retryDelay  time.Duration
}

// NewConsumer 创建一个消费者。retryable 判断处理错误是否值得重试。
func NewConsumer(cfg config.KafkaConfig, processor TaskProcessor, attempts AttemptCounter, retryable func(error) bool) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokerList(cfg.Brokers),
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	return newConsumer(r, processor, attempts, retryable, cfg.MaxAttempts)
}

func newConsumer(r messageReader, processor TaskProcessor, attempts AttemptCounter, retryable func(error) bool, maxAttempts int) *Consumer {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Consumer{
		reader:      r,
		processor:   processor,
		attempts:    attempts,
		retryable:   retryable,
		maxAttempts: maxAttempts,
		retryDelay:  2 * time.Second,
	}
}

// Run 持续消费直到 ctx 被取消。ctx 取消时返回 nil，读取失败时返回错误。
func (c *Consumer) Run(ctx context.Context) error {
	defer func() {
		if err := c.reader.Close(); err != nil {
			log.Errorf("关闭 Kafka 消费者失败: %v", err)
		}
	}()
	log.Info("Kafka 消费者已启动")

	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Info("Kafka 消费者停止")
				return nil
			}
			log.Error("从 Kafka 读取消息失败", err)
			return fmt.Errorf("fetch message: %w", err)
		}
		log.Infof("收到 Kafka 消息: partition %d offset %d", m.Partition, m.Offset)
		c.handle(ctx, m)
	}
}

// handle 处理单条消息，并在得出结论后提交 offset。ctx 被取消时不提交，消息在重启后重新投递。
func (c *Consumer) handle(ctx context.Context, m kafka.Message) {
	ev, err := tasks.ParseS3Event(m.Value)
	if err != nil {
		log.Errorf("无法解析 Kafka 消息: %v, value: %.200s", err, string(m.Value))
		// 消息格式错误，直接提交，避免阻塞队列
		c.commit(ctx, m)
		return
	}
	attemptsKey := fmt.Sprintf("kafka:attempts:%s", ev.PartitionKey())

	delay := c.retryDelay
	for attempt := 1; ; attempt++ {
		err := c.processor.Process(ctx, ev)
		if err == nil {
			if rerr := c.attempts.Reset(ctx, attemptsKey); rerr != nil {
				log.Warnf("清理失败计数失败: key=%s, err=%v", attemptsKey, rerr)
			}
			c.commit(ctx, m)
			return
		}
		if ctx.Err() != nil {
			log.Warnf("处理被中断, 不提交 offset: offset=%d", m.Offset)
			return
		}
		if !c.retryable(err) {
			log.Errorf("事件处理失败且不可重试, 提交 offset: offset=%d, err=%v", m.Offset, err)
			c.commit(ctx, m)
			return
		}

		n, incErr := c.attempts.Incr(ctx, attemptsKey)
		if incErr != nil {
			// Redis 不可用时退回到本地计数
			log.Warnf("失败计数写入 Redis 失败: %v", incErr)
			n = int64(attempt)
		}
		if n >= int64(c.maxAttempts) {
			log.Errorf("事件多次处理失败(>=%d), 提交 offset 终止重试: key=%s, err=%v", c.maxAttempts, attemptsKey, err)
			c.commit(ctx, m)
			return
		}
		log.Warnf("事件处理失败, %s 后第 %d 次重试: key=%s, err=%v", delay, n+1, attemptsKey, err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
	}
}

func (c *Consumer) commit(ctx context.Context, m kafka.Message) {
	if err := c.reader.CommitMessages(ctx, m); err != nil && !errors.Is(err, context.Canceled) {
		log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
	}
}
