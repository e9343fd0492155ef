package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

type fixedSize int

func (f fixedSize) Len() int { return int(f) }

func TestRegistryCollector_SetsGauges(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	collector := NewRegistryCollector(fixedSize(3), fixedSize(5), time.Hour)

	done := make(chan struct{})
	go func() {
		collector.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(presenceUsers) == 3 && testutil.ToFloat64(reminderSubscribers) == 5
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestRecordDelivery(t *testing.T) {
	before := testutil.ToFloat64(reminderDeliveriesTotal.WithLabelValues(DeliveryDelivered))
	RecordDelivery(DeliveryDelivered)
	assert.Equal(t, before+1, testutil.ToFloat64(reminderDeliveriesTotal.WithLabelValues(DeliveryDelivered)))
}
