package kafka

import (
	"fmt"
	"log"
	"time"

	"DocSage/backend/go/internal/config"

	"github.com/segmentio/kafka-go"
)

// EnsureTopics 连接第一个 broker，创建入库请求与结果事件两个主题中尚不存在的部分。
func EnsureTopics(cfg *config.KafkaConfig) error {
	if len(cfg.Brokers) == 0 {
		return fmt.Errorf("未配置 Kafka brokers")
	}

	conn, err := kafka.Dial("tcp", cfg.Brokers[0])
	if err != nil {
		return fmt.Errorf("kafka 初始化连接失败: %w", err)
	}
	defer conn.Close()

	partitions, err := conn.ReadPartitions()
	if err != nil {
		return fmt.Errorf("无法读取 Kafka 分区信息: %w", err)
	}
	existing := make(map[string]struct{})
	for _, p := range partitions {
		existing[p.Topic] = struct{}{}
	}

	var toCreate []kafka.TopicConfig
	for _, topic := range []string{cfg.IngestTopic, cfg.ResultTopic} {
		if topic == "" {
			continue
		}
		if _, ok := existing[topic]; ok {
			continue
		}
		log.Printf("主题 '%s' 不存在，准备创建...", topic)
		toCreate = append(toCreate, kafka.TopicConfig{
			Topic:             topic,
			NumPartitions:     1,
			ReplicationFactor: 1,
		})
	}
	if len(toCreate) == 0 {
		return nil
	}
	if err := conn.CreateTopics(toCreate...); err != nil {
		return fmt.Errorf("自动创建 Kafka 主题失败: %w", err)
	}
	log.Printf("成功创建 %d 个 Kafka 主题。", len(toCreate))
	return nil
}

// NewWriter 创建写入 topic 的生产者。
func NewWriter(cfg *config.KafkaConfig, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{}, // 同一文档的事件落在同一分区
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
}

// NewReader 创建消费 topic 的消费者组读取器。
func NewReader(cfg *config.KafkaConfig, topic string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		Topic:       topic,
		MinBytes:    1,
		MaxBytes:    10e6, // 10MB
		MaxAttempts: 10,
		Dialer: &kafka.Dialer{
			Timeout: 10 * time.Second,
		},
	})
}
