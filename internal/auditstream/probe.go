package auditstream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// ProbeResult describes the first broker that answered.
type ProbeResult struct {
	Broker     string
	Partitions int
	Leaders    int
}

// Probe dials brokers in order, checks ApiVersions on the first that
// answers, and reports how many partitions of topic it can see.
func Probe(ctx context.Context, brokers []string, topic string, timeout time.Duration) (ProbeResult, error) {
	if len(brokers) == 0 {
		return ProbeResult{}, errors.New("no brokers configured")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	dialer := &kafka.Dialer{Timeout: timeout}

	var errs []error
	for _, addr := range brokers {
		res, err := probeBroker(ctx, dialer, addr, topic, timeout)
		if err == nil {
			return res, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", addr, err))
	}
	return ProbeResult{}, errors.Join(errs...)
}

func probeBroker(ctx context.Context, dialer *kafka.Dialer, addr, topic string, timeout time.Duration) (ProbeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return ProbeResult{}, fmt.Errorf("broker dial failed: %w", err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(timeout))

	if _, err := conn.ApiVersions(); err != nil {
		return ProbeResult{}, fmt.Errorf("api versions: %w", err)
	}
	parts, err := conn.ReadPartitions(topic)
	if err != nil {
		return ProbeResult{}, fmt.Errorf("read partitions for %s: %w", topic, err)
	}
	res := ProbeResult{Broker: addr}
	for _, p := range parts {
		if p.Topic != topic {
			continue
		}
		res.Partitions++
		if p.Leader.Host != "" {
			res.Leaders++
		}
	}
	if res.Partitions == 0 {
		return res, fmt.Errorf("topic %s not found or not authorized", topic)
	}
	return res, nil
}
