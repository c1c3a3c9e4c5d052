/*
 * Copyright (c) 2021-present unTill Pro, Ltd.
 *
 */

package imetrics

import (
	"bytes"
	"strconv"
	"sync"
)

type metric struct {
	name    string
	storage string
	kind    string
}

func (m *metric) Name() string {
	return m.name
}

func (m *metric) Storage() string {
	return m.storage
}

func (m *metric) Kind() string {
	return m.kind
}

type mapMetrics struct {
	metrics map[metric]float64
	lock    sync.Mutex
}

func newMetrics() IMetrics {
	return &mapMetrics{
		metrics: make(map[metric]float64),
	}
}

func (m *mapMetrics) Increase(metricName string, storage string, valueDelta float64) {
	key := metric{
		name:    metricName,
		storage: storage,
	}
	m.increase(key, valueDelta)
}

func (m *mapMetrics) IncreaseKind(metricName string, storage string, kind string, valueDelta float64) {
	key := metric{
		name:    metricName,
		storage: storage,
		kind:    kind,
	}
	m.increase(key, valueDelta)
}

func (m *mapMetrics) increase(key metric, valueDelta float64) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.metrics[key] = m.metrics[key] + valueDelta
}

func (m *mapMetrics) List(cb func(metric IMetric, metricValue float64) (err error)) (err error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	for metric, value := range m.metrics {
		err = cb(&metric, value)
		if err != nil {
			return
		}
	}
	return err
}

func ToPrometheus(metric IMetric, metricValue float64) []byte {
	bb := bytes.Buffer{}
	bb.WriteString(metric.Name())
	if metric.Storage() != "" || metric.Kind() != "" {
		bb.WriteRune('{')
		if metric.Storage() != "" {
			bb.WriteString(`storage="`)
			bb.WriteString(metric.Storage())
			bb.WriteRune('"')
		}
		if metric.Kind() != "" {
			if metric.Storage() != "" {
				bb.WriteRune(',')
			}
			bb.WriteString(`kind="`)
			bb.WriteString(metric.Kind())
			bb.WriteRune('"')
		}
		bb.WriteRune('}')
	}
	bb.WriteRune(' ')
	bb.WriteString(strconv.FormatFloat(metricValue, 'f', -1, bitSize))
	bb.WriteRune('\n')
	return bb.Bytes()
}
