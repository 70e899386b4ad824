package api

import (
	"encoding/hex"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/zhanghaoyu/goose_traffic_engine/pkg/publisher"
	"github.com/zhanghaoyu/goose_traffic_engine/pkg/types"
)

// PublisherService 发布控制块服务
type PublisherService struct {
	registry *publisher.Registry
}

// NewPublisherService 创建发布控制块服务
func NewPublisherService(registry *publisher.Registry) *PublisherService {
	return &PublisherService{registry: registry}
}

// dataSetValue 是数据集成员值的请求结构
type dataSetValue struct {
	Type        string  `json:"type"` // boolean/integer/unsigned/float/octet_string/visible_string/bit_string/utc_time
	Boolean     bool    `json:"boolean,omitempty"`
	Integer     int64   `json:"integer,omitempty"`
	Unsigned    uint64  `json:"unsigned,omitempty"`
	Float       float64 `json:"float,omitempty"`
	Text        string  `json:"text,omitempty"`
	Octets      string  `json:"octets,omitempty"` // 十六进制编码的字节串
	BitWidth    uint8   `json:"bit_width,omitempty"`
	Bits        uint32  `json:"bits,omitempty"`
	TimestampMs uint64  `json:"timestamp_ms,omitempty"`
}

// toTypedValue 将请求值转换为数据集成员值
func (v *dataSetValue) toTypedValue() (types.TypedValue, error) {
	switch v.Type {
	case "boolean":
		return types.NewBoolean(v.Boolean), nil
	case "integer":
		return types.NewInteger(v.Integer), nil
	case "unsigned":
		return types.NewUnsigned(v.Unsigned), nil
	case "float":
		return types.NewFloat(v.Float), nil
	case "octet_string":
		raw, err := hex.DecodeString(v.Octets)
		if err != nil {
			return types.TypedValue{}, fmt.Errorf("octets字段必须是十六进制: %w", err)
		}
		return types.NewOctetString(raw), nil
	case "visible_string":
		return types.NewVisibleString(v.Text), nil
	case "bit_string":
		return types.NewBitString(v.BitWidth, v.Bits), nil
	case "utc_time":
		return types.NewUtcTime(v.TimestampMs), nil
	}
	return types.TypedValue{}, fmt.Errorf("不支持的值类型: %s", v.Type)
}

// createPublicationRequest 是创建发布控制块的请求结构
type createPublicationRequest struct {
	Config publisher.Config `json:"config"`
	Values []dataSetValue   `json:"values,omitempty"`
	Start  bool             `json:"start,omitempty"` // 创建后立即启动发布
}

// publicationKey 从路径参数拼接发布控制块键
func publicationKey(c echo.Context) publisher.Key {
	return publisher.Key{
		IED:    c.Param("ied"),
		LdInst: c.Param("ld_inst"),
		CbName: c.Param("cb_name"),
	}
}

// publicationView 是发布控制块的对外展示结构
type publicationView struct {
	GoCbRef string                 `json:"go_cb_ref"`
	Config  publisher.Config       `json:"config"`
	Stats   map[string]interface{} `json:"stats"`
}

func newPublicationView(p *publisher.Publication) publicationView {
	cfg := p.Config()
	return publicationView{
		GoCbRef: cfg.GoCbRef(),
		Config:  cfg,
		Stats:   p.Stats(),
	}
}

// ListPublications 获取所有发布控制块
func (ps *PublisherService) ListPublications(c echo.Context) error {
	pubs := ps.registry.List()
	views := make([]publicationView, 0, len(pubs))
	for _, p := range pubs {
		views = append(views, newPublicationView(p))
	}

	return c.JSON(http.StatusOK, Response{
		Code:    http.StatusOK,
		Message: "获取发布控制块成功",
		Data:    views,
	})
}

// CreatePublication 创建发布控制块并注册
// 请求体携带数据集初值时同时完成配置，start为真时立即启动
func (ps *PublisherService) CreatePublication(c echo.Context) error {
	var req createPublicationRequest
	if err := c.Bind(&req); err != nil {
		return HandleError(c, NewInvalidPublicationError(err))
	}

	if err := req.Config.Validate(); err != nil {
		return HandleError(c, NewInvalidPublicationError(err))
	}

	key := publisher.Key{IED: req.Config.IEDName, LdInst: req.Config.LdInst, CbName: req.Config.CbName}
	if _, exists := ps.registry.Get(key); exists {
		return HandleError(c, NewPublicationExistsError(key.String()))
	}

	pub, err := publisher.OpenPublication(req.Config)
	if err != nil {
		return HandleError(c, NewInternalServerError(err))
	}

	if len(req.Values) > 0 {
		values, err := toTypedValues(req.Values)
		if err != nil {
			pub.Stop()
			return HandleError(c, NewInvalidPublicationError(err))
		}
		if err := pub.SetDataSetValues(values); err != nil {
			pub.Stop()
			return HandleError(c, NewInternalServerError(err))
		}
	}

	if err := ps.registry.Add(pub); err != nil {
		pub.Stop()
		return HandleError(c, NewPublicationExistsError(key.String()))
	}

	if req.Start {
		if err := pub.Start(); err != nil {
			return HandleError(c, NewInvalidPublicationError(err))
		}
	}

	logrus.WithFields(logrus.Fields{
		"goCbRef":   key.String(),
		"device":    req.Config.Device,
		"operation": "create",
	}).Info("发布控制块创建成功")

	return c.JSON(http.StatusCreated, Response{
		Code:    http.StatusCreated,
		Message: "创建发布控制块成功",
		Data:    newPublicationView(pub),
	})
}

// GetPublication 获取发布控制块状态
func (ps *PublisherService) GetPublication(c echo.Context) error {
	key := publicationKey(c)
	pub, ok := ps.registry.Get(key)
	if !ok {
		return HandleError(c, NewPublicationNotFoundError(key.String()))
	}

	return c.JSON(http.StatusOK, Response{
		Code:    http.StatusOK,
		Message: "获取发布控制块成功",
		Data:    newPublicationView(pub),
	})
}

// SetValues 更新数据集内容，不触发发送
func (ps *PublisherService) SetValues(c echo.Context) error {
	key := publicationKey(c)
	pub, ok := ps.registry.Get(key)
	if !ok {
		return HandleError(c, NewPublicationNotFoundError(key.String()))
	}

	var payload []dataSetValue
	if err := c.Bind(&payload); err != nil {
		return HandleError(c, NewInvalidPublicationError(err))
	}

	values, err := toTypedValues(payload)
	if err != nil {
		return HandleError(c, NewInvalidPublicationError(err))
	}

	if err := pub.SetDataSetValues(values); err != nil {
		return HandleError(c, NewInternalServerError(err))
	}

	return c.JSON(http.StatusOK, Response{
		Code:    http.StatusOK,
		Message: "更新数据集成功",
	})
}

// StartPublication 启动发布，发出首个状态并开始重传
// cyclic=true时跳过退避突发，直接按心跳周期发送
func (ps *PublisherService) StartPublication(c echo.Context) error {
	key := publicationKey(c)
	pub, ok := ps.registry.Get(key)
	if !ok {
		return HandleError(c, NewPublicationNotFoundError(key.String()))
	}

	var err error
	if c.QueryParam("cyclic") == "true" {
		err = pub.StartCyclic()
	} else {
		err = pub.Start()
	}
	if err != nil {
		return HandleError(c, NewInvalidPublicationError(err))
	}

	return c.JSON(http.StatusOK, Response{
		Code:    http.StatusOK,
		Message: "发布已启动",
		Data:    newPublicationView(pub),
	})
}

// Publish 触发一次发送
// state_change为真表示数据集状态变化，stNum加一并重启重传序列
func (ps *PublisherService) Publish(c echo.Context) error {
	key := publicationKey(c)
	pub, ok := ps.registry.Get(key)
	if !ok {
		return HandleError(c, NewPublicationNotFoundError(key.String()))
	}

	stateChange := c.QueryParam("state_change") != "false"

	if err := pub.Publish(stateChange); err != nil {
		return HandleError(c, NewInvalidPublicationError(err))
	}

	logrus.WithFields(logrus.Fields{
		"goCbRef":      key.String(),
		"state_change": stateChange,
		"operation":    "publish",
	}).Debug("发布触发成功")

	return c.JSON(http.StatusOK, Response{
		Code:    http.StatusOK,
		Message: "发布成功",
		Data:    newPublicationView(pub),
	})
}

// StopPublication 停止并注销发布控制块
func (ps *PublisherService) StopPublication(c echo.Context) error {
	key := publicationKey(c)
	if !ps.registry.Remove(key) {
		return HandleError(c, NewPublicationNotFoundError(key.String()))
	}

	logrus.WithFields(logrus.Fields{
		"goCbRef":   key.String(),
		"operation": "stop",
	}).Info("发布控制块已停止")

	return c.JSON(http.StatusOK, Response{
		Code:    http.StatusOK,
		Message: "停止发布成功",
	})
}

func toTypedValues(payload []dataSetValue) ([]types.TypedValue, error) {
	values := make([]types.TypedValue, 0, len(payload))
	for i := range payload {
		v, err := payload[i].toTypedValue()
		if err != nil {
			return nil, fmt.Errorf("第%d个数据集成员无效: %w", i+1, err)
		}
		values = append(values, v)
	}
	return values, nil
}
