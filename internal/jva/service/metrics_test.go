package service

import (
	"errors"
	"testing"
	"time"

	"github.com/jimyag/jva/pkg/apierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	t.Parallel()

	m := NewMetrics()
	registry := prometheus.NewPedanticRegistry()
	require.NoError(t, registry.Register(m))

	start := time.Now()
	m.ObserveOperation("attachment_create", start, nil)
	m.ObserveOperation("attachment_create", start, apierror.Newf(apierror.ErrConflictingReservation, "held"))
	m.ObserveDriverCall("nbd", "initialize_connection", time.Millisecond, errors.New("boom"))
	m.ObserveLockWait(time.Millisecond)

	families, err := registry.Gather()
	require.NoError(t, err)

	counters := map[string]float64{}
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			if metric.GetCounter() == nil {
				continue
			}
			key := mf.GetName()
			for _, label := range metric.GetLabel() {
				key += "," + label.GetName() + "=" + label.GetValue()
			}
			counters[key] = metric.GetCounter().GetValue()
		}
	}

	assert.Equal(t, 1.0, counters["jva_operations_total,operation=attachment_create,result=success"])
	assert.Equal(t, 1.0, counters["jva_operations_total,operation=attachment_create,result=ConflictingReservation"])
	assert.Equal(t, 1.0, counters["jva_driver_calls_total,backend=nbd,operation=initialize_connection,result=error"])
}

func TestMetrics_Nil(t *testing.T) {
	t.Parallel()

	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveOperation("attachment_delete", time.Now(), nil)
		m.ObserveDriverCall("nbd", "terminate_connection", time.Second, nil)
		m.ObserveLockWait(time.Second)
	})
}
