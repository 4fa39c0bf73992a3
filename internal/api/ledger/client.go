package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// 错误定义
var (
	ErrRejected  = fmt.Errorf("ledger: request rejected")
	ErrTransient = fmt.Errorf("ledger: transient failure")
)

const reconcilePath = "/api/v1/fuel/reconcile"

// Client 远端油量台账客户端
// 台账根据车辆效率曲线把距离增量折算为油耗，客户端只信任其返回值
type Client struct {
	httpClient     *http.Client
	host           string
	maxRetries     int
	backoffInitial time.Duration
}

// NewClient 创建台账客户端
// maxRetries 为瞬态失败的重试次数（不含首次请求），退避间隔逐次翻倍
func NewClient(host string, timeout time.Duration, maxRetries int, backoffInitial time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		host:           strings.TrimRight(host, "/"),
		maxRetries:     maxRetries,
		backoffInitial: backoffInitial,
	}
}

// Reconcile 上报距离增量并换取权威油量
// 400/404 视为拒绝，不重试；5xx 与网络错误按指数退避重试同一请求
// 返回的 SyncOutcome 永远非 nil，失败时 Status=failed 并带 ErrorKind
func (c *Client) Reconcile(ctx context.Context, vehicleID string, totalKm, lastPostedKm float64) (*SyncOutcome, error) {
	payload, err := json.Marshal(reconcileRequest{
		VehicleID:               vehicleID,
		TotalDistanceTraveledKm: totalKm,
		LastPostedDistanceKm:    lastPostedKm,
	})
	if err != nil {
		return &SyncOutcome{Status: StatusFailed, ErrorKind: ErrKindRejected},
			fmt.Errorf("marshal reconcile request: %w", err)
	}

	backoff := c.backoffInitial
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return &SyncOutcome{Status: StatusFailed, ErrorKind: ErrKindTransient}, ctx.Err()
			case <-timer.C:
			}
			backoff *= 2
		}

		outcome, retryable, err := c.doReconcile(ctx, payload)
		if err == nil {
			return outcome, nil
		}
		if !retryable {
			return outcome, err
		}
		lastErr = err
	}

	return &SyncOutcome{Status: StatusFailed, ErrorKind: ErrKindTransient},
		fmt.Errorf("%w: retries exhausted: %v", ErrTransient, lastErr)
}

// doReconcile 执行单次请求，返回 (结果, 是否可重试, 错误)
func (c *Client) doReconcile(ctx context.Context, payload []byte) (*SyncOutcome, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+reconcilePath, bytes.NewReader(payload))
	if err != nil {
		return &SyncOutcome{Status: StatusFailed, ErrorKind: ErrKindRejected}, false,
			fmt.Errorf("create reconcile request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// 网络层失败，可重试
		return &SyncOutcome{Status: StatusFailed, ErrorKind: ErrKindTransient}, true,
			fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		var body reconcileResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return &SyncOutcome{Status: StatusFailed, ErrorKind: ErrKindTransient}, true,
				fmt.Errorf("%w: decode reconcile response: %v", ErrTransient, err)
		}
		switch body.Status {
		case StatusApplied:
			return &SyncOutcome{
				Status:              StatusApplied,
				NewFuelLevelPercent: body.NewFuelLevelPercent,
				LowFuelWarning:      body.LowFuelWarning,
			}, false, nil
		case StatusSkipped:
			// 增量低于服务端阈值：等同于"没有发生更新"，不是错误
			return &SyncOutcome{Status: StatusSkipped}, false, nil
		default:
			return &SyncOutcome{Status: StatusFailed, ErrorKind: ErrKindTransient}, true,
				fmt.Errorf("%w: unexpected ledger status %q", ErrTransient, body.Status)
		}

	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusNotFound:
		body, _ := io.ReadAll(resp.Body)
		return &SyncOutcome{Status: StatusFailed, ErrorKind: ErrKindRejected}, false,
			fmt.Errorf("%w: status=%d body=%s", ErrRejected, resp.StatusCode, string(body))

	default:
		body, _ := io.ReadAll(resp.Body)
		return &SyncOutcome{Status: StatusFailed, ErrorKind: ErrKindTransient}, true,
			fmt.Errorf("%w: status=%d body=%s", ErrTransient, resp.StatusCode, string(body))
	}
}
