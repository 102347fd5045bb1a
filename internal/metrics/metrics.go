package metrics

import (
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
)

// Metrics defines the contract for logging verification events
type Metrics interface {
	LogEvent(eventName string, tags map[string]string, fields map[string]interface{})
	LogRecordEvent(eventName string, recordID string, fields map[string]interface{})
	Close()
}

type metricsImpl struct {
	client      influxdb2.Client
	writeAPI    api.WriteAPI
	org         string
	bucket      string
	defaultTags map[string]string // Constant tags, like environment name
}

// Ensure metricsImpl implements Metrics
var _ Metrics = (*metricsImpl)(nil)

// NewMetricsImpl initializes the logger with constant tags like environment name
func NewMetricsImpl(url string, token string, org string, bucket string, defaultTags map[string]string) Metrics {
	client := influxdb2.NewClient(url, token)
	writeAPI := client.WriteAPI(org, bucket)

	return &metricsImpl{
		client:      client,
		writeAPI:    writeAPI,
		org:         org,
		bucket:      bucket,
		defaultTags: defaultTags,
	}
}

// Universal method to log an event with customizable tags and fields
func (metrics *metricsImpl) LogEvent(eventName string, tags map[string]string, fields map[string]interface{}) {
	if len(fields) == 0 {
		return
	}

	point := influxdb2.NewPointWithMeasurement("verification_event").
		AddTag("event", eventName).
		SetTime(time.Now())

	// Add constant default tags
	for key, value := range metrics.defaultTags {
		point.AddTag(key, value)
	}

	// Add custom tags
	for key, value := range tags {
		point.AddTag(key, value)
	}

	// Add custom fields
	for key, value := range fields {
		point.AddField(key, value)
	}

	metrics.writeAPI.WritePoint(point)
}

// Specific method for logging record-scoped events
func (metrics *metricsImpl) LogRecordEvent(eventName string, recordID string, fields map[string]interface{}) {
	if recordID == "" {
		return
	}

	tags := map[string]string{
		"record_id": recordID,
	}

	metrics.LogEvent(eventName, tags, fields)
}

// Close flushes the write API and closes the client
func (metrics *metricsImpl) Close() {
	metrics.writeAPI.Flush()
	metrics.client.Close()
}
