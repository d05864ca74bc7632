package policy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"helmsman/internal/engine"
	"helmsman/internal/logger"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"
)

// 远程模型服务的应答约束：必须带 action 字段，取值三选一。
const decisionSchemaJSON = `{
  "type": "object",
  "required": ["action"],
  "properties": {
    "action": {"type": "string", "enum": ["HOLD", "BUY", "SELL"]},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1}
  }
}`

var decisionSchema = jsonschema.MustCompileString("decision.json", decisionSchemaJSON)

// Remote 把观测矩阵 POST 给模型推理服务（例如训练侧导出的 PPO
// 模型包装成的 HTTP 端点），校验并解析应答。畸形应答一律当 HOLD，
// 不作为故障抛出。
type Remote struct {
	endpoint string
	symbol   string
	client   *http.Client
}

func NewRemote(endpoint, symbol string, timeout time.Duration) (*Remote, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("remote policy: endpoint 不能为空")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Remote{
		endpoint: endpoint,
		symbol:   strings.ToUpper(symbol),
		client:   &http.Client{Timeout: timeout},
	}, nil
}

func (r *Remote) Decide(ctx context.Context, obs [][]float64) (engine.Action, error) {
	payload, err := json.Marshal(map[string]any{
		"symbol":      r.symbol,
		"observation": obs,
	})
	if err != nil {
		return engine.Hold, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(payload))
	if err != nil {
		return engine.Hold, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := r.client.Do(req)
	if err != nil {
		return engine.Hold, fmt.Errorf("remote policy: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return engine.Hold, fmt.Errorf("remote policy: read body: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return engine.Hold, fmt.Errorf("remote policy: status=%d", resp.StatusCode)
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		logger.Warnf("[%s] 模型应答不是合法 JSON，按 HOLD 处理: %v", r.symbol, err)
		return engine.Hold, nil
	}
	if err := decisionSchema.Validate(doc); err != nil {
		logger.Warnf("[%s] 模型应答未过 schema 校验，按 HOLD 处理: %v", r.symbol, err)
		return engine.Hold, nil
	}
	return engine.ParseAction(gjson.GetBytes(raw, "action").String()), nil
}
