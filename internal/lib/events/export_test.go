package events

import "github.com/segmentio/kafka-go"

func WriterOf(p *KafkaPublisher) *kafka.Writer { return p.writer }
