package types

import (
	"errors"
	"fmt"
)

// ErrProcessorNotReady 处理器依赖尚未就绪
var ErrProcessorNotReady = errors.New("processor not ready")

type PipelineError struct {
	Stage string
	Err   error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("pipeline error at stage %s: %v", e.Stage, e.Err)
}

func NewPipelineError(stage string, err error) error {
	return &PipelineError{Stage: stage, Err: err}
}

// MalformedPduError 表示帧截断或BER编码损坏
// 该帧被丢弃并计数，捕获循环继续运行
type MalformedPduError struct {
	Offset int
	Reason string
}

func (e *MalformedPduError) Error() string {
	return fmt.Sprintf("malformed pdu at offset %d: %s", e.Offset, e.Reason)
}

func NewMalformedPduError(offset int, reason string) error {
	return &MalformedPduError{Offset: offset, Reason: reason}
}

// TransportError 表示链路层发送或接收失败
// 发送失败只记录日志，重传调度继续运行
type TransportError struct {
	Device string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error on %s: %v", e.Device, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func NewTransportError(device string, err error) error {
	return &TransportError{Device: device, Err: err}
}

// ConfigurationError 表示发布配置缺少必要的标识字段
// 报告给调用方，发布实例保持Idle状态
type ConfigurationError struct {
	Field string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: missing or invalid field %q", e.Field)
}

func NewConfigurationError(field string) error {
	return &ConfigurationError{Field: field}
}

// ResolutionError 表示IP无法解析为MAC地址
// 对应过滤器标记为失效，捕获继续运行
type ResolutionError struct {
	IP string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("could not resolve %s to a MAC address", e.IP)
}

func NewResolutionError(ip string) error {
	return &ResolutionError{IP: ip}
}

// IsMalformedPdu 判断错误是否为畸形PDU错误
func IsMalformedPdu(err error) bool {
	var target *MalformedPduError
	return errors.As(err, &target)
}
