package models

import (
	"encoding/json"
	"time"
)

// MetricSample is one telemetry snapshot reported by the runner agent
type MetricSample struct {
	ID               string
	JobID            int64 `badgerhold:"index"`
	Timestamp        time.Time
	ReceivedAt       time.Time
	Hostname         string
	CPUCores         int
	CPUPercent       float64
	MemoryTotalBytes uint64
	MemoryUsedBytes  uint64
	MemoryPercent    float64
	DiskPercent      float64
	NetworkRxBytes   uint64 // cumulative
	NetworkTxBytes   uint64 // cumulative
	NetworkRxRate    *float64
	NetworkTxRate    *float64
	TopProcesses     []Process
	Raw              json.RawMessage
}

// Process is one entry of the top-process snapshot
type Process struct {
	PID        int     `json:"pid"`
	CPUPercent float64 `json:"cpu"`
	MemPercent float64 `json:"mem"`
	User       string  `json:"user"`
	Command    string  `json:"command"`
}
