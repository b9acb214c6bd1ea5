package export

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/DrC0ns0le/echo-perf/internal/measure/latency"
	"github.com/DrC0ns0le/echo-perf/pkg/logging"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esutil"
	"github.com/pkg/errors"
)

type ElasticConfig struct {
	// Addresses of the cluster, e.g. https://localhost:9200
	Addresses []string
	Username  string
	Password  string
	// Index receives one summary document per run plus one document per sample
	Index string
	// Insecure skips TLS verification
	Insecure bool

	Logger logging.Logger
}

// RunRecord is the summary document for one probe run.
type RunRecord struct {
	Timestamp  time.Time         `json:"@timestamp"`
	Kind       string            `json:"kind"`
	RunID      string            `json:"run_id"`
	Transport  string            `json:"transport"`
	Remote     string            `json:"remote"`
	Iterations int               `json:"iterations"`
	Violations int               `json:"violations"`
	Report     latency.Report    `json:"report"`
	Baseline   *latency.Baseline `json:"baseline,omitempty"`
}

// SampleRecord is one round trip of a run, in completion order.
type SampleRecord struct {
	Timestamp time.Time `json:"@timestamp"`
	Kind      string    `json:"kind"`
	RunID     string    `json:"run_id"`
	Transport string    `json:"transport"`
	Sequence  int       `json:"sequence"`
	RTT       int64     `json:"rtt_us"`
}

type ElasticExporter struct {
	client *elasticsearch.Client
	index  string
	logger logging.Logger
}

func NewElasticExporter(config ElasticConfig) (*ElasticExporter, error) {
	if config.Index == "" {
		config.Index = "echo-latency"
	}
	if config.Logger == nil {
		config.Logger = logging.NewDefaultLogger()
	}

	cfg := elasticsearch.Config{
		Addresses: config.Addresses,
		Username:  config.Username,
		Password:  config.Password,
	}
	if config.Insecure {
		cfg.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: true, //nolint:gosec
			},
		}
	}

	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "error creating elasticsearch client")
	}

	return &ElasticExporter{
		client: client,
		index:  config.Index,
		logger: config.Logger.With("component", "export", "index", config.Index),
	}, nil
}

// Export bulk-indexes the run summary and its samples. It returns an error
// if any document failed to index.
func (e *ElasticExporter) Export(ctx context.Context, run RunRecord, samples []time.Duration) error {
	run.Kind = "run"

	bulkIndexer, err := esutil.NewBulkIndexer(esutil.BulkIndexerConfig{
		Index:         e.index,
		Client:        e.client,
		NumWorkers:    1,       // keeps documents in run order
		FlushBytes:    5242880, // 5MB
		FlushInterval: 30 * time.Second,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create bulk indexer")
	}

	var failed atomic.Int64
	add := func(doc any) {
		data, err := json.Marshal(doc)
		if err != nil {
			e.logger.Errorf("failed to marshal record: %v", err)
			failed.Add(1)
			return
		}

		err = bulkIndexer.Add(ctx, esutil.BulkIndexerItem{
			Action: "index",
			Body:   bytes.NewReader(data),
			OnFailure: func(ctx context.Context, item esutil.BulkIndexerItem, res esutil.BulkIndexerResponseItem, err error) {
				failed.Add(1)
				if err != nil {
					e.logger.Errorf("failed to index record: %v", err)
				} else {
					e.logger.Errorf("failed to index record: %s: %s", res.Error.Type, res.Error.Reason)
				}
			},
		})
		if err != nil {
			e.logger.Errorf("failed to add record to bulk indexer: %v", err)
			failed.Add(1)
		}
	}

	add(run)
	for i, s := range samples {
		add(SampleRecord{
			Timestamp: run.Timestamp,
			Kind:      "sample",
			RunID:     run.RunID,
			Transport: run.Transport,
			Sequence:  i,
			RTT:       s.Microseconds(),
		})
	}

	if err := bulkIndexer.Close(ctx); err != nil {
		return errors.Wrap(err, "failed to close bulk indexer")
	}

	stats := bulkIndexer.Stats()
	e.logger.Debugf("indexed %d documents, %d failed", stats.NumFlushed, stats.NumFailed)
	if n := failed.Load(); n > 0 {
		return errors.Errorf("%d of %d documents failed to index", n, len(samples)+1)
	}
	return nil
}
