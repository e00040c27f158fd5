package app

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

const healthCheckTimeout = 2 * time.Second

// HealthCheck probes one dependency
type HealthCheck func(ctx context.Context) error

type HealthChecker struct {
	checks map[string]HealthCheck
}

func NewHealthChecker(checks map[string]HealthCheck) *HealthChecker {
	return &HealthChecker{
		checks: checks,
	}
}

// check runs every probe concurrently and returns the failures by name
func (h *HealthChecker) check(ctx context.Context) map[string]string {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		failures = map[string]string{}
	)

	for name, probe := range h.checks {
		wg.Add(1)
		go func(name string, probe HealthCheck) {
			defer wg.Done()
			if err := probe(ctx); err != nil {
				mu.Lock()
				failures[name] = err.Error()
				mu.Unlock()
			}
		}(name, probe)
	}
	wg.Wait()

	return failures
}

func (h *HealthChecker) Handler(c *gin.Context) {
	failures := h.check(c.Request.Context())
	if len(failures) > 0 {
		names := make([]string, 0, len(failures))
		for name := range failures {
			names = append(names, name)
		}
		sort.Strings(names)

		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "fail",
			"error":  fmt.Sprintf("unhealthy: %v", names),
			"checks": failures,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "pass",
	})
}
