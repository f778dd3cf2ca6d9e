package internaltelemetry

import (
	"go.opentelemetry.io/otel/metric"
)

// LogFSMetrics holds the metric instruments of the log file system.
type LogFSMetrics struct {
	FilesCreated       metric.Int64Counter
	FilesDeleted       metric.Int64Counter
	LiveFiles          metric.Int64UpDownCounter
	RecordsAppended    metric.Int64Counter
	RecordsRead        metric.Int64Counter
	BlocksErased       metric.Int64Counter
	BlocksEvicted      metric.Int64Counter
	EntriesQuarantined metric.Int64Counter
	WriteFailures      metric.Int64Counter
}

// NewLogFSMetrics creates and registers all the metrics for the log file system.
func NewLogFSMetrics(meter metric.Meter) (*LogFSMetrics, error) {
	m := &LogFSMetrics{}
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.FilesCreated, "logfs.files.created_total", "Total number of files created."},
		{&m.FilesDeleted, "logfs.files.deleted_total", "Total number of files deleted."},
		{&m.RecordsAppended, "logfs.records.appended_total", "Total number of records appended."},
		{&m.RecordsRead, "logfs.records.read_total", "Total number of records returned to readers."},
		{&m.BlocksErased, "logfs.blocks.erased_total", "Total number of erase blocks erased."},
		{&m.BlocksEvicted, "logfs.blocks.evicted_total", "Total number of record blocks evicted in circular mode."},
		{&m.EntriesQuarantined, "logfs.entries.quarantined_total", "Total number of entries marked BAD."},
		{&m.WriteFailures, "logfs.writes.failed_total", "Total number of writes that failed verification."},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(
			c.name,
			metric.WithDescription(c.desc),
			metric.WithUnit("1"),
		)
		if err != nil {
			return nil, err
		}
		*c.dst = counter
	}

	liveFiles, err := meter.Int64UpDownCounter(
		"logfs.files.live",
		metric.WithDescription("Number of files currently on the medium."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}
	m.LiveFiles = liveFiles

	return m, nil
}
