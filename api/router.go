package api

import (
	"net/http"

	"github.com/fyerfyer/paper-dataset/api/handler"
	"github.com/fyerfyer/paper-dataset/api/middleware"
	"github.com/gin-gonic/gin"
)

// SetupRouter 设置API路由
// 配置所有的API端点并应用中间件，extra 在路由之前生效（如 Cors）
func SetupRouter(runHandler *handler.RunHandler, extra ...gin.HandlerFunc) *gin.Engine {
	router := gin.New()

	// 应用全局中间件
	router.Use(middleware.SetTraceID())
	router.Use(middleware.Logger())
	router.Use(middleware.ErrorMiddleware())
	router.Use(extra...)

	// 在调试模式下记录请求体和响应体
	if gin.Mode() == gin.DebugMode {
		router.Use(middleware.RequestBodyLog())
		router.Use(middleware.ResponseLogger())
	}

	api := router.Group("/api")
	{
		runGroup := api.Group("/runs")
		{
			// 开始运行 - POST /api/runs
			runGroup.POST("", runHandler.StartRun)

			// 当前运行状态 - GET /api/runs/current
			runGroup.GET("/current", runHandler.GetCurrentRun)

			// 取消当前运行 - POST /api/runs/current/cancel
			runGroup.POST("/current/cancel", runHandler.CancelRun)

			// 当前运行的样本 - GET /api/runs/current/samples
			runGroup.GET("/current/samples", runHandler.ListSamples)
		}

		// 模型列表 - GET /api/models
		api.GET("/models", runHandler.ListModels)

		// 导出格式 - GET /api/formats
		api.GET("/formats", runHandler.ListFormats)

		// 健康检查API
		api.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"status": "ok",
			})
		})
	}

	return router
}

// Cors 跨域资源共享中间件
// 如果需要支持跨域请求，可以启用此中间件
func Cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Trace-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
