package telemetry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"runner-insights/core/models"
)

// Payload is the snapshot posted by the runner agent to POST /metrics
type Payload struct {
	Timestamp string  `json:"timestamp" validate:"required"`
	Context   Context `json:"context"`
	System    System  `json:"system"`

	// Raw holds the request body exactly as received
	Raw json.RawMessage `json:"-"`
}

// Context identifies the job the snapshot belongs to
type Context struct {
	JobID      ExternalID `json:"job_id" validate:"gt=0"`
	RunID      ExternalID `json:"run_id" validate:"gt=0"`
	Repository string     `json:"repository" validate:"required,contains=/"`
}

// System is the resource snapshot
type System struct {
	Info struct {
		Hostname string `json:"hostname"`
	} `json:"info"`
	CPU struct {
		Cores        int `json:"cores" validate:"gte=0"`
		CurrentUsage struct {
			UsagePercent float64 `json:"usage_percent" validate:"gte=0,lte=100"`
		} `json:"current_usage"`
	} `json:"cpu"`
	Memory struct {
		TotalBytes   uint64  `json:"total_bytes"`
		UsedBytes    uint64  `json:"used_bytes"`
		UsagePercent float64 `json:"usage_percent" validate:"gte=0,lte=100"`
	} `json:"memory"`
	Disk         []DiskUsage      `json:"disk" validate:"dive"`
	Network      []NetworkCounter `json:"network"`
	TopProcesses []models.Process `json:"top_processes"`
}

// DiskUsage is the usage of one mounted filesystem
type DiskUsage struct {
	Filesystem     string  `json:"filesystem"`
	MountedOn      string  `json:"mounted_on"`
	Mount          string  `json:"mount"` // older agents
	SizeBytes      uint64  `json:"size_bytes"`
	UsedBytes      uint64  `json:"used_bytes"`
	AvailableBytes uint64  `json:"available_bytes"`
	UsePercentage  float64 `json:"use_percentage" validate:"gte=0,lte=100"`
}

// MountPoint returns where the filesystem is mounted
func (d DiskUsage) MountPoint() string {
	if d.MountedOn != "" {
		return d.MountedOn
	}
	return d.Mount
}

// NetworkCounter holds the cumulative byte counters of one interface
type NetworkCounter struct {
	Interface string `json:"interface"`
	Stats     struct {
		RxBytes uint64 `json:"rx_bytes"`
		TxBytes uint64 `json:"tx_bytes"`
	} `json:"stats"`
}

// ExternalID accepts a job or run id sent either as a JSON number or as a
// numeric string
type ExternalID int64

// UnmarshalJSON implements json.Unmarshaler
func (id *ExternalID) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(data)), `"`)
	if s == "" || s == "null" {
		*id = 0
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid id %s", data)
	}
	*id = ExternalID(v)
	return nil
}

// DecodePayload parses a request body and keeps a copy of it verbatim
func DecodePayload(body []byte) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, err
	}
	p.Raw = append(json.RawMessage(nil), body...)
	return &p, nil
}

// DiskPercent picks the root filesystem, falling back to the first entry
func (s *System) DiskPercent() float64 {
	for _, d := range s.Disk {
		if d.MountPoint() == "/" {
			return d.UsePercentage
		}
	}
	if len(s.Disk) > 0 {
		return s.Disk[0].UsePercentage
	}
	return 0
}

// NetworkTotals sums the counters of every non-loopback interface
func (s *System) NetworkTotals() (rx, tx uint64) {
	for _, n := range s.Network {
		if n.Interface == "lo" || strings.HasPrefix(n.Interface, "lo:") {
			continue
		}
		rx += n.Stats.RxBytes
		tx += n.Stats.TxBytes
	}
	return rx, tx
}
