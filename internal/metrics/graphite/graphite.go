// Package graphite periodically pushes gocomet Prometheus metrics to Graphite
// over plaintext protocol.
package graphite

import (
	"context"
	"fmt"
	"io"
	"net"
	"regexp"
	"strings"
	"time"

	"github.com/FZambia/eagle"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

var nonASCII = regexp.MustCompile("[[:^ascii:]]")

// PreparePathComponent cleans string to be used as Graphite metric path.
func PreparePathComponent(s string) string {
	s = nonASCII.ReplaceAllLiteralString(s, "_")
	return strings.ReplaceAll(s, ".", "_")
}

// Config for Graphite Exporter.
type Config struct {
	Address  string
	Gatherer prometheus.Gatherer
	Interval time.Duration
	Prefix   string
	// Tags sends labels as Graphite tags instead of path components.
	Tags   bool
	Logger zerolog.Logger
}

// Exporter to Graphite.
type Exporter struct {
	config  Config
	timeout time.Duration
	sink    chan eagle.Metrics
	eagle   *eagle.Eagle
	now     func() time.Time
}

// New creates new Graphite Exporter. Metrics are gathered from the moment
// of creation, call Run to start sending them.
func New(c Config) *Exporter {
	e := &Exporter{
		config:  c,
		timeout: time.Second,
		sink:    make(chan eagle.Metrics),
		now:     time.Now,
	}
	e.eagle = eagle.New(eagle.Config{
		Gatherer: c.Gatherer,
		Interval: c.Interval,
		Sink:     e.sink,
	})
	return e
}

// Run sends gathered metrics until ctx is done.
func (e *Exporter) Run(ctx context.Context) error {
	defer func() { _ = e.eagle.Close() }()
	for {
		select {
		case <-ctx.Done():
			return nil
		case metrics := <-e.sink:
			if err := e.exportOnce(metrics); err != nil {
				e.config.Logger.Warn().Err(err).Str("address", e.config.Address).Msg("error exporting metrics to Graphite")
			}
		}
	}
}

func (e *Exporter) exportOnce(metrics eagle.Metrics) error {
	conn, err := net.DialTimeout("tcp", e.config.Address, e.timeout)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()
	_ = conn.SetWriteDeadline(e.now().Add(e.timeout))
	return e.write(conn, metrics)
}

func makeTags(labels []string) string {
	if len(labels) == 0 {
		return ""
	}
	tagParts := make([]string, 0, len(labels)/2)
	for i := 0; i+1 < len(labels); i += 2 {
		tagParts = append(tagParts, labels[i]+"="+labels[i+1])
	}
	return ";" + strings.Join(tagParts, ";")
}

func (e *Exporter) key(item eagle.Metric, value eagle.MetricValue) string {
	parts := []string{e.config.Prefix}
	for _, p := range []string{item.Namespace, item.Subsystem, item.Name, value.Name} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if e.config.Tags {
		return strings.Join(parts, ".") + makeTags(value.Labels)
	}
	for _, l := range value.Labels {
		parts = append(parts, PreparePathComponent(l))
	}
	return strings.Join(parts, ".")
}

func (e *Exporter) write(w io.Writer, metrics eagle.Metrics) error {
	now := e.now().Unix()
	for _, item := range metrics.Items {
		for _, value := range item.Values {
			var err error
			if item.Type == eagle.MetricTypeCounter {
				_, err = fmt.Fprintf(w, "%s %d %d\n", e.key(item, value), int64(value.Value), now)
			} else {
				_, err = fmt.Fprintf(w, "%s %f %d\n", e.key(item, value), value.Value, now)
			}
			if err != nil {
				return err
			}
		}
	}
	return nil
}
