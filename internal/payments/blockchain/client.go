package blockchain

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"

	"adserver.com/pkg/logger"
	"adserver.com/pkg/metrics"
	"adserver.com/pkg/xerr"
)

const (
	TxTypeSendOne    = "send_one"
	TxTypeSendMany   = "send_many"
	TxTypeConnection = "connection"
)

// 节点返回的常见错误码
const (
	ErrCodeBroadcastNotReady = "broadcast not ready"
	ErrCodeUnknown           = "unknown error"
)

// CommandError 节点执行命令失败，都按可重试处理
type CommandError struct {
	Command string
	Code    string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("blockchain: %s: %s", e.Command, e.Code)
}

type Config struct {
	URL     string        `mapstructure:"url" validate:"required,url"`
	Address string        `mapstructure:"address" validate:"required"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type Client struct {
	url     string
	address string
	http    *http.Client
}

func NewClient(c Config) *Client {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		url:     strings.TrimSuffix(c.URL, "/"),
		address: c.Address,
		http:    &http.Client{Timeout: timeout},
	}
}

// Address 平台自己的收款账户
func (c *Client) Address() string { return c.address }

type Wire struct {
	TargetAddress string
	Amount        int64
}

type Transaction struct {
	ID            string
	Type          string
	SenderAddress string
	TargetAddress string
	Amount        int64
	Wires         []Wire
	Time          time.Time
}

type wireJSON struct {
	TargetAddress string `json:"target_address"`
	Amount        string `json:"amount"`
}

type txJSON struct {
	ID            string     `json:"id"`
	Type          string     `json:"type"`
	SenderAddress string     `json:"sender_address"`
	TargetAddress string     `json:"target_address"`
	Amount        string     `json:"amount"`
	Wires         []wireJSON `json:"wires"`
	Time          int64      `json:"time"`
}

// LogEntry get_log 的一行
type LogEntry struct {
	ID      string
	Type    string
	InOut   string
	Address string
	Amount  int64
	Time    time.Time
}

type logJSON struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	InOut   string `json:"inout"`
	Address string `json:"address"`
	Amount  string `json:"amount"`
	Time    int64  `json:"time"`
}

// RunTransaction 执行任意节点命令，out 为 nil 时只检查错误
func (c *Client) RunTransaction(ctx context.Context, cmd string, params map[string]interface{}, out interface{}) error {
	body := make(map[string]interface{}, len(params)+1)
	for k, v := range params {
		body[k] = v
	}
	body["run"] = cmd

	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("blockchain: marshal %s: %w", cmd, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("blockchain: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.RemoteCallDuration.WithLabelValues("blockchain", cmd, "error").Observe(time.Since(start).Seconds())
		return xerr.Wrap(err, xerr.Transient, "blockchain "+cmd)
	}
	defer resp.Body.Close()
	metrics.RemoteCallDuration.WithLabelValues("blockchain", cmd, strconv.Itoa(resp.StatusCode)).Observe(time.Since(start).Seconds())

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return xerr.Wrap(err, xerr.Transient, "blockchain read body")
	}
	if resp.StatusCode >= 400 {
		return xerr.Wrap(&CommandError{Command: cmd, Code: fmt.Sprintf("http %d", resp.StatusCode)}, xerr.Transient, "blockchain "+cmd)
	}

	var envelope struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return xerr.Wrap(err, xerr.Transient, "blockchain decode "+cmd)
	}
	if envelope.Error != "" {
		cerr := &CommandError{Command: cmd, Code: strings.ToLower(envelope.Error)}
		logger.Warn(ctx, "blockchain command failed", zap.String("cmd", cmd), zap.String("code", cerr.Code))
		return xerr.Wrap(cerr, xerr.Transient, "blockchain "+cmd)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return xerr.Wrap(err, xerr.Transient, "blockchain decode "+cmd)
	}
	return nil
}

// GetBlockIDs 让节点同步 from 之后的区块，返回同步到的区块 id
func (c *Client) GetBlockIDs(ctx context.Context, from string) ([]string, error) {
	params := map[string]interface{}{}
	if from != "" {
		params["from"] = from
	}
	var out struct {
		Blocks []string `json:"blocks"`
	}
	if err := c.RunTransaction(ctx, "get_blocks", params, &out); err != nil {
		return nil, err
	}
	return out.Blocks, nil
}

func (c *Client) GetTransaction(ctx context.Context, txID string) (*Transaction, error) {
	var out struct {
		Txn txJSON `json:"txn"`
	}
	if err := c.RunTransaction(ctx, "get_transaction", map[string]interface{}{"txid": txID}, &out); err != nil {
		return nil, err
	}

	t := &Transaction{
		ID:            out.Txn.ID,
		Type:          out.Txn.Type,
		SenderAddress: out.Txn.SenderAddress,
		TargetAddress: out.Txn.TargetAddress,
		Time:          time.Unix(out.Txn.Time, 0).UTC(),
	}
	if t.ID == "" {
		t.ID = txID
	}
	if out.Txn.Amount != "" {
		amount, err := ParseAmount(out.Txn.Amount)
		if err != nil {
			return nil, err
		}
		t.Amount = amount
	}
	for _, w := range out.Txn.Wires {
		amount, err := ParseAmount(w.Amount)
		if err != nil {
			return nil, err
		}
		t.Wires = append(t.Wires, Wire{TargetAddress: w.TargetAddress, Amount: amount})
	}
	return t, nil
}

// GetLog 平台账户 from 之后的流水
func (c *Client) GetLog(ctx context.Context, from time.Time) ([]LogEntry, error) {
	params := map[string]interface{}{"address": c.address}
	if !from.IsZero() {
		params["from"] = from.Unix()
	}
	var out struct {
		Log []logJSON `json:"log"`
	}
	if err := c.RunTransaction(ctx, "get_log", params, &out); err != nil {
		return nil, err
	}

	entries := make([]LogEntry, 0, len(out.Log))
	for _, l := range out.Log {
		var amount int64
		if l.Amount != "" {
			a, err := ParseAmount(strings.TrimPrefix(l.Amount, "-"))
			if err != nil {
				return nil, err
			}
			amount = a
		}
		entries = append(entries, LogEntry{
			ID:      l.ID,
			Type:    l.Type,
			InOut:   l.InOut,
			Address: l.Address,
			Amount:  amount,
			Time:    time.Unix(l.Time, 0).UTC(),
		})
	}
	return entries, nil
}

// SendMany 一笔交易批量转账，返回交易 id
func (c *Client) SendMany(ctx context.Context, wires []Wire) (string, error) {
	if len(wires) == 0 {
		return "", fmt.Errorf("blockchain: send_many without wires")
	}
	m := make(map[string]string, len(wires))
	for _, w := range wires {
		m[w.TargetAddress] = FormatAmount(w.Amount)
	}
	var out struct {
		Tx struct {
			ID string `json:"id"`
		} `json:"tx"`
	}
	if err := c.RunTransaction(ctx, TxTypeSendMany, map[string]interface{}{"wires": m}, &out); err != nil {
		return "", err
	}
	if out.Tx.ID == "" {
		return "", xerr.Wrap(&CommandError{Command: TxTypeSendMany, Code: ErrCodeUnknown}, xerr.Transient, "blockchain send_many")
	}
	return out.Tx.ID, nil
}
