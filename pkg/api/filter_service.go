package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/zhanghaoyu/goose_traffic_engine/pkg/processor"
)

// FilterService 捕获过滤器服务
type FilterService struct {
	filters *processor.FilterSet
}

// NewFilterService 创建捕获过滤器服务
func NewFilterService(filters *processor.FilterSet) *FilterService {
	return &FilterService{filters: filters}
}

// filterView 是过滤器的对外展示结构，附带解析状态
type filterView struct {
	processor.CaptureFilter
	Unresolved bool `json:"unresolved,omitempty"`
}

// ListFilters 获取所有过滤器
func (fs *FilterService) ListFilters(c echo.Context) error {
	all := fs.filters.List()
	views := make([]filterView, 0, len(all))
	for i := range all {
		views = append(views, filterView{
			CaptureFilter: all[i],
			Unresolved:    all[i].Unresolved(),
		})
	}

	return c.JSON(http.StatusOK, Response{
		Code:    http.StatusOK,
		Message: "获取过滤器成功",
		Data:    views,
	})
}

// CreateFilter 创建过滤器
func (fs *FilterService) CreateFilter(c echo.Context) error {
	filterID := c.Param("filter_id")

	var filter processor.CaptureFilter
	if err := c.Bind(&filter); err != nil {
		return HandleError(c, NewInvalidFilterError(err))
	}
	filter.ID = filterID

	if err := fs.filters.Add(&filter); err != nil {
		return HandleError(c, NewInvalidFilterError(err))
	}

	logrus.WithFields(logrus.Fields{
		"filter_id": filterID,
		"type":      filter.Type,
		"operation": "create",
	}).Info("过滤器创建成功")

	return c.JSON(http.StatusCreated, Response{
		Code:    http.StatusCreated,
		Message: "创建过滤器成功",
		Data: filterView{
			CaptureFilter: filter,
			Unresolved:    filter.Unresolved(),
		},
	})
}

// ResolveFilter 重新解析IP过滤器
// 地址解析失败的过滤器保持未解析状态，不匹配任何报文
func (fs *FilterService) ResolveFilter(c echo.Context) error {
	filterID := c.Param("filter_id")

	if err := fs.filters.ReResolve(filterID); err != nil {
		return HandleError(c, NewServiceError(ErrCodeBadRequest, "过滤器解析失败", err))
	}

	logrus.WithFields(logrus.Fields{
		"filter_id": filterID,
		"operation": "resolve",
	}).Info("过滤器解析成功")

	return c.JSON(http.StatusOK, Response{
		Code:    http.StatusOK,
		Message: "过滤器解析成功",
	})
}

// DeleteFilter 删除过滤器
func (fs *FilterService) DeleteFilter(c echo.Context) error {
	filterID := c.Param("filter_id")

	if !fs.filters.Remove(filterID) {
		return HandleError(c, NewFilterNotFoundError(filterID))
	}

	logrus.WithFields(logrus.Fields{
		"filter_id": filterID,
		"operation": "delete",
	}).Info("过滤器删除成功")

	return c.JSON(http.StatusOK, Response{
		Code:    http.StatusOK,
		Message: "删除过滤器成功",
	})
}
