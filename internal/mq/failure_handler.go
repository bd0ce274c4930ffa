package mq

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wangyingjie930/nexus-commerce/internal/logger"
)

const (
	HeaderOriginalTopic     = "dlt-original-topic"
	HeaderOriginalPartition = "dlt-original-partition"
	HeaderOriginalOffset    = "dlt-original-offset"
	HeaderErrorType         = "dlt-error-type"
	HeaderErrorMessage      = "dlt-error-message"
	HeaderRetryCount        = "retry-count"
)

// ConsumerRetryConfig controls what happens when a consumed message fails
// processing: retriable errors are republished onto delayed retry topics,
// everything else (or exhausted retries) lands on the dead-letter topic.
type ConsumerRetryConfig struct {
	Enabled             bool     `yaml:"enabled"`
	RetryDelays         []int    `yaml:"retryDelays"` // in seconds
	RetryTopicTemplate  string   `yaml:"retryTopicTemplate"`
	DltTopicTemplate    string   `yaml:"dltTopicTemplate"`
	RetryableErrors     []string `yaml:"retryableErrors"`
	retryableErrors     map[string]struct{}
}

// FailureHandler routes failed consumer messages to retry or DLT topics.
type FailureHandler struct {
	brokers []string
	config  ConsumerRetryConfig
	tracer  trace.Tracer
	writers map[string]*kafka.Writer
	mu      sync.Mutex
}

func NewFailureHandler(brokers []string, config ConsumerRetryConfig, tracer trace.Tracer) *FailureHandler {
	retryableSet := make(map[string]struct{})
	for _, e := range config.RetryableErrors {
		retryableSet[e] = struct{}{}
	}
	config.RetryableErrors = nil
	config.retryableErrors = retryableSet

	return &FailureHandler{
		brokers: brokers,
		config:  config,
		tracer:  tracer,
		writers: make(map[string]*kafka.Writer),
	}
}

func (h *FailureHandler) Handle(ctx context.Context, originalMsg kafka.Message, err error) {
	if !h.config.Enabled {
		return
	}

	_, span := h.tracer.Start(ctx, "FailureHandler.Handle")
	defer span.End()

	retryCount, _ := strconv.Atoi(getHeaderValue(originalMsg.Headers, HeaderRetryCount))

	isRetryable := h.isRetryable(err)
	maxRetries := len(h.config.RetryDelays)

	var targetTopic string
	baseTopic := getHeaderValue(originalMsg.Headers, HeaderOriginalTopic)
	if baseTopic == "" {
		baseTopic = originalMsg.Topic
	}

	if isRetryable && retryCount < maxRetries {
		delay := h.config.RetryDelays[retryCount]
		targetTopic = strings.NewReplacer(
			"{topic}", baseTopic,
			"{delaySec}", strconv.Itoa(delay),
		).Replace(h.config.RetryTopicTemplate)
		span.SetAttributes(
			attribute.String("failure.action", "RETRY"),
			attribute.String("failure.target_topic", targetTopic),
		)
		retryCount++
	} else {
		targetTopic = strings.NewReplacer(
			"{topic}", baseTopic,
		).Replace(h.config.DltTopicTemplate)
		span.SetAttributes(attribute.String("failure.action", "DLT"), attribute.String("failure.target_topic", targetTopic))
	}

	newMsg := h.prepareMessage(originalMsg, err, retryCount, baseTopic)

	writer := h.getWriter(targetTopic)
	logger.Ctx(ctx).Info().Str("target_topic", targetTopic).Msg("routing failed message")

	if writeErr := writer.WriteMessages(ctx, newMsg); writeErr != nil {
		span.RecordError(writeErr)
		span.SetStatus(codes.Error, "failed to publish to failure topic")
		logger.Ctx(ctx).Error().Err(writeErr).Str("target_topic", targetTopic).Msg("failed to publish failed message")
	}
}

func (h *FailureHandler) getWriter(topic string) *kafka.Writer {
	h.mu.Lock()
	defer h.mu.Unlock()
	if writer, ok := h.writers[topic]; ok {
		return writer
	}
	writer := NewKafkaWriter(h.brokers, topic)
	h.writers[topic] = writer
	return writer
}

func (h *FailureHandler) prepareMessage(original kafka.Message, err error, retryCount int, baseTopic string) kafka.Message {
	newHeaders := make([]kafka.Header, 0, len(original.Headers)+5)

	for _, header := range original.Headers {
		if header.Key != HeaderRetryCount {
			newHeaders = append(newHeaders, header)
		}
	}

	newHeaders = append(newHeaders, kafka.Header{Key: HeaderRetryCount, Value: []byte(strconv.Itoa(retryCount))})
	newHeaders = append(newHeaders, kafka.Header{Key: HeaderOriginalTopic, Value: []byte(baseTopic)})
	newHeaders = append(newHeaders, kafka.Header{Key: HeaderOriginalPartition, Value: []byte(strconv.Itoa(original.Partition))})
	newHeaders = append(newHeaders, kafka.Header{Key: HeaderOriginalOffset, Value: []byte(strconv.FormatInt(original.Offset, 10))})

	if err != nil {
		newHeaders = append(newHeaders, kafka.Header{Key: HeaderErrorType, Value: []byte(fmt.Sprintf("%T", err))})
		newHeaders = append(newHeaders, kafka.Header{Key: HeaderErrorMessage, Value: []byte(err.Error())})
	}

	return kafka.Message{
		Key:     original.Key,
		Value:   original.Value,
		Headers: newHeaders,
	}
}

func (h *FailureHandler) isRetryable(err error) bool {
	if err == nil {
		return false
	}
	_, ok := h.config.retryableErrors[err.Error()]
	return ok
}

func getHeaderValue(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
