/*
 * Copyright (c) 2021-present unTill Pro, Ltd.
*
* @author Michael Saigachenko
*/

package imetrics

type IMetric interface {
	Name() string

	// Storage returns the storage driver name the metric belongs to, "" when not specified
	Storage() string

	// Kind returns the entity kind the metric is scoped to, "" when not specified
	Kind() string
}

type IMetrics interface {
	// Increase metric value with "delta".
	// The default metric value is always 0.
	// Naming best practices: https://prometheus.io/docs/practices/naming/
	//
	// @ConcurrentAccess
	Increase(metricName string, storage string, valueDelta float64)

	// Increase kind-scoped metric value with "delta".
	// The default metric value is always 0.
	// Naming best practices: https://prometheus.io/docs/practices/naming/
	//
	// @ConcurrentAccess
	IncreaseKind(metricName string, storage string, kind string, valueDelta float64)

	// List enumerates current values of all metrics
	//
	// @ConcurrentAccess
	List(cb func(metric IMetric, metricValue float64) (err error)) (err error)
}
