// health.go — обработчики health endpoints для Kubernetes probes.
// /health/live — процесс жив, зависимости не проверяются.
// /health/ready — содержимое, WAL и хранилище комнат.
package handlers

import (
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/DevM15/Sew/internal/config"
)

const (
	statusOK       = "ok"
	statusDegraded = "degraded"
	statusFail     = "fail"
)

// serviceName — имя сервиса в ответах health endpoints.
const serviceName = "sew"

// ReadinessChecker — проверка готовности зависимости.
type ReadinessChecker interface {
	// CheckReady возвращает статус ("ok", "degraded", "fail") и сообщение.
	CheckReady() (status string, message string)
}

// HealthHandler реализует /health/live и /health/ready.
type HealthHandler struct {
	// uploadDir — директория содержимого, недоступность на запись — fail
	uploadDir string
	// walDir — директория WAL, недоступность на запись — degraded
	walDir string
	// rooms — хранилище комнат (индекс fsstore или PostgreSQL)
	rooms ReadinessChecker
}

// NewHealthHandler создаёт обработчик health endpoints.
// rooms == nil считается неготовым хранилищем.
func NewHealthHandler(uploadDir, walDir string, rooms ReadinessChecker) *HealthHandler {
	return &HealthHandler{
		uploadDir: uploadDir,
		walDir:    walDir,
		rooms:     rooms,
	}
}

type healthCheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type healthLiveResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	Service   string `json:"service"`
}

type healthReadyResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	Service   string `json:"service"`
	Checks    struct {
		Uploads healthCheckResult `json:"uploads"`
		WAL     healthCheckResult `json:"wal"`
		Rooms   healthCheckResult `json:"rooms"`
	} `json:"checks"`
}

// HealthLive обрабатывает GET /health/live.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthLiveResponse{
		Status:    statusOK,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   config.Version,
		Service:   serviceName,
	})
}

// HealthReady обрабатывает GET /health/ready.
// 200 для ok и degraded, 503 для fail.
func (h *HealthHandler) HealthReady(w http.ResponseWriter, _ *http.Request) {
	resp := healthReadyResponse{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   config.Version,
		Service:   serviceName,
	}

	resp.Checks.Uploads = checkWritable(h.uploadDir, "Директория содержимого недоступна для записи: ")
	resp.Checks.WAL = checkWritable(h.walDir, "Директория WAL недоступна для записи: ")
	if h.rooms != nil {
		status, msg := h.rooms.CheckReady()
		resp.Checks.Rooms = healthCheckResult{Status: status, Message: msg}
	} else {
		resp.Checks.Rooms = healthCheckResult{Status: statusFail, Message: "не инициализировано"}
	}

	// WAL нужен только для восстановления после сбоя
	walStatus := resp.Checks.WAL.Status
	if walStatus == statusFail {
		walStatus = statusDegraded
	}
	resp.Status = overallStatus(resp.Checks.Uploads.Status, walStatus, resp.Checks.Rooms.Status)

	httpStatus := http.StatusOK
	if resp.Status == statusFail {
		httpStatus = http.StatusServiceUnavailable
	}
	writeJSON(w, httpStatus, resp)
}

// checkWritable проверяет, что в dir можно создать файл.
func checkWritable(dir, failPrefix string) healthCheckResult {
	testFile := filepath.Join(dir, ".health_check")
	if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
		return healthCheckResult{Status: statusFail, Message: failPrefix + err.Error()}
	}
	_ = os.Remove(testFile)
	return healthCheckResult{Status: statusOK}
}

// overallStatus — худший из статусов проверок.
func overallStatus(statuses ...string) string {
	result := statusOK
	for _, s := range statuses {
		switch s {
		case statusFail:
			return statusFail
		case statusDegraded:
			result = statusDegraded
		}
	}
	return result
}
