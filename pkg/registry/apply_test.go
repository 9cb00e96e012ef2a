package registry

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/flockml/flock/pkg/db/models"
	"github.com/flockml/flock/pkg/ferr"
)

func twoClientJob() *models.Job {
	return &models.Job{
		ClientsInfo: []models.ClientInfo{
			{ID: "client-a", ServiceAddress: "http://a:8001"},
			{ID: "client-b", ServiceAddress: "http://b:8001"},
		},
	}
}

func TestApplyUUIDsInOrder(t *testing.T) {
	job := twoClientJob()
	if err := applyUUIDs(job, "srv-1", []string{"c1", "c2"}); err != nil {
		t.Fatalf("applyUUIDs failed: %v", err)
	}

	if job.ServerUUID != "srv-1" {
		t.Errorf("server uuid not set: %q", job.ServerUUID)
	}
	if job.ClientsInfo[0].UUID != "c1" || job.ClientsInfo[1].UUID != "c2" {
		t.Errorf("client uuids out of order: %+v", job.ClientsInfo)
	}
}

func TestApplyUUIDsLengthMismatch(t *testing.T) {
	job := twoClientJob()
	err := applyUUIDs(job, "srv-1", []string{"c1"})
	if !ferr.IsCode(err, ferr.CodeRegistryIntegrity) {
		t.Fatalf("expected registry_integrity, got %v", err)
	}

	// The assertion names both lengths.
	msg := err.Error()
	if !strings.Contains(msg, "1") || !strings.Contains(msg, "2") {
		t.Errorf("error does not name both lengths: %q", msg)
	}

	// No partial write.
	if job.ServerUUID != "" || job.ClientsInfo[0].UUID != "" {
		t.Errorf("partial write on failed validation: %+v", job)
	}
}

func TestApplyClientMetrics(t *testing.T) {
	job := twoClientJob()
	metrics := json.RawMessage(`{"accuracy": 0.91}`)

	if err := applyClientMetrics(job, "client-b", metrics); err != nil {
		t.Fatalf("applyClientMetrics failed: %v", err)
	}
	if string(job.ClientsInfo[1].Metrics) != string(metrics) {
		t.Errorf("metrics not stored on matching entry: %+v", job.ClientsInfo)
	}
	if job.ClientsInfo[0].Metrics != nil {
		t.Error("metrics leaked onto wrong entry")
	}
}

func TestApplyClientMetricsUnknownClient(t *testing.T) {
	job := twoClientJob()
	err := applyClientMetrics(job, "client-z", json.RawMessage(`{}`))
	if !ferr.IsCode(err, ferr.CodeRegistryIntegrity) {
		t.Fatalf("expected registry_integrity, got %v", err)
	}
	if job.ClientsInfo[0].Metrics != nil || job.ClientsInfo[1].Metrics != nil {
		t.Error("partial write on unknown client id")
	}
}

func TestApplyClientLogPathBounds(t *testing.T) {
	job := twoClientJob()
	if err := applyClientLogPath(job, 1, "/var/log/flock/c2.log"); err != nil {
		t.Fatalf("applyClientLogPath failed: %v", err)
	}
	if job.ClientsInfo[1].LogFilePath == "" {
		t.Error("log path not stored")
	}

	if err := applyClientLogPath(job, 2, "/tmp/x.log"); !ferr.IsCode(err, ferr.CodeRegistryIntegrity) {
		t.Errorf("expected registry_integrity for out-of-range index, got %v", err)
	}
}
