package sim

import (
	"io"
	"net/http"

	"qbatch/internal/pkg/response"
	"qbatch/internal/pkg/sysinfo"

	"github.com/gin-gonic/gin"
)

// HandlerExecuteBatch 执行批描述符并返回 BatchResult.
// 描述符解析失败不报 4xx/5xx: 按执行契约返回整体失败的 BatchResult.
// @Summary 执行一个仿真批次
// @Description 请求体为自包含批描述符(作业列表 + 可选错误模型 + 配置), 同步执行并返回批级结果.
// @Tags 批次执行
// @Accept json
// @Produce json
// @Param backend query string false "后端名称" default(zerostate)
// @Success 200 {object} response.Response{results=controller.BatchResult}
// @Failure 400 {object} response.Response
// @Failure 500 {object} response.Response
// @Router /api/v1/sim/batch [post]
func (rt *Router) HandlerExecuteBatch(c *gin.Context) {
	name := c.DefaultQuery("backend", "zerostate")
	ctrl, ok := rt.ctrls[name]
	if !ok {
		c.JSON(http.StatusBadRequest, response.Response{Detail: "unknown backend: " + name})
		return
	}

	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Response{Detail: "unable to read request body: " + err.Error()})
		return
	}

	res, err := ctrl.Execute(c.Request.Context(), raw)
	if err != nil {
		// 仅非法分布式几何(部署错误)走到这里
		rt.logger.Error("batch execution rejected", "err", err)
		c.JSON(http.StatusInternalServerError, response.Response{Detail: err.Error()})
		return
	}
	c.JSON(http.StatusOK, response.Response{Results: res})
}

type Backends struct {
	Backends []string `json:"backends"` // 已注册后端名称
}

// HandlerGetBackends 列出已注册的仿真后端.
// @Summary 获取可用后端列表
// @Tags 批次执行
// @Produce json
// @Success 200 {object} response.Response{results=Backends}
// @Router /api/v1/sim/backends [get]
func (rt *Router) HandlerGetBackends(c *gin.Context) {
	c.JSON(http.StatusOK, response.Response{Results: Backends{Backends: rt.backends.Names()}})
}

type Sysinfo struct {
	HostMB          uint64 `json:"host_mb"`           // 物理内存总量(MB), 0 表示不可知
	AcceleratorMB   uint64 `json:"accelerator_mb"`    // 加速设备内存(MB)
	DefaultBudgetMB uint64 `json:"default_budget_mb"` // 缺省内存预算(物理内存一半)
}

// HandlerGetSysinfo 返回资源探测结果与缺省内存预算.
// @Summary 获取系统资源信息
// @Tags 批次执行
// @Produce json
// @Success 200 {object} response.Response{results=Sysinfo}
// @Router /api/v1/sim/sysinfo [get]
func (rt *Router) HandlerGetSysinfo(c *gin.Context) {
	mem := rt.probe.SystemMemoryMB(c.Request.Context())
	c.JSON(http.StatusOK, response.Response{Results: Sysinfo{
		HostMB:          mem.HostMB,
		AcceleratorMB:   mem.AcceleratorMB,
		DefaultBudgetMB: sysinfo.DefaultBudgetMB(mem.HostMB),
	}})
}
