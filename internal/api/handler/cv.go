package handler

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/cv_score_server/internal/api/middleware"
	"github.com/qs3c/cv_score_server/internal/model/dto"
	"github.com/qs3c/cv_score_server/internal/pkg/response"
	"github.com/qs3c/cv_score_server/internal/service"
)

type CVHandler struct {
	cvService *service.CVService
}

func NewCVHandler(cvService *service.CVService) *CVHandler {
	return &CVHandler{cvService: cvService}
}

// writeError 把 service 层错误映射为响应码
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrCVNotFound):
		response.NotFoundError(c, service.ErrCVNotFound.Error())
	case errors.Is(err, service.ErrCVPermission):
		response.PermissionError(c, service.ErrCVPermission.Error())
	case errors.Is(err, service.ErrInvalidFile):
		response.InvalidFileError(c, service.ErrInvalidFile.Error())
	case errors.Is(err, service.ErrInvalidStatus):
		response.ParamError(c, service.ErrInvalidStatus.Error())
	case errors.Is(err, service.ErrEnqueueFailed):
		response.QueueError(c, service.ErrEnqueueFailed.Error())
	case errors.Is(err, service.ErrStorageUnavailable):
		response.ServerError(c, service.ErrStorageUnavailable.Error())
	default:
		response.ServerError(c, "")
	}
}

func parseCVID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.ParamError(c, "无效的简历ID")
		return 0, false
	}
	return id, true
}

// UploadURL 申请直传地址
// POST /api/v1/cvs/upload-url
func (h *CVHandler) UploadURL(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	var req dto.UploadURLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	resp, err := h.cvService.CreateUploadURL(userID, &req)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, resp)
}

// Register 登记简历并开始处理
// POST /api/v1/cvs
func (h *CVHandler) Register(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	var req dto.RegisterCVRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	item, err := h.cvService.Register(c.Request.Context(), userID, &req)
	if err != nil {
		writeError(c, err)
		return
	}

	response.SuccessWithMessage(c, "上传成功，已开始处理", item)
}

// Process 触发处理
// POST /api/v1/cvs/:id/process?reset=true
func (h *CVHandler) Process(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}
	cvID, ok := parseCVID(c)
	if !ok {
		return
	}
	reset, _ := strconv.ParseBool(c.DefaultQuery("reset", "false"))

	resp, err := h.cvService.Process(c.Request.Context(), userID, cvID, reset)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrCVStatusConflict):
			response.ConflictError(c, "当前状态为 "+resp.Status+"，不允许开始处理", resp)
			return
		case errors.Is(err, service.ErrCVAlreadyQueued):
			response.ConflictError(c, service.ErrCVAlreadyQueued.Error(), resp)
			return
		}
		writeError(c, err)
		return
	}

	response.SuccessWithMessage(c, "已提交处理", resp)
}

// List 获取简历列表
// GET /api/v1/cvs
func (h *CVHandler) List(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	status := c.Query("status")

	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	items, total, err := h.cvService.List(userID, page, pageSize, status)
	if err != nil {
		writeError(c, err)
		return
	}

	response.SuccessPage(c, total, page, pageSize, items)
}

// Get 获取简历详情
// GET /api/v1/cvs/:id
func (h *CVHandler) Get(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}
	cvID, ok := parseCVID(c)
	if !ok {
		return
	}

	detail, err := h.cvService.GetDetail(userID, cvID)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, detail)
}

// Logs 获取处理日志
// GET /api/v1/cvs/:id/logs
func (h *CVHandler) Logs(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}
	cvID, ok := parseCVID(c)
	if !ok {
		return
	}

	logs, err := h.cvService.GetLogs(userID, cvID)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, logs)
}

// Delete 删除简历
// DELETE /api/v1/cvs/:id
func (h *CVHandler) Delete(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}
	cvID, ok := parseCVID(c)
	if !ok {
		return
	}

	if err := h.cvService.Delete(userID, cvID); err != nil {
		writeError(c, err)
		return
	}

	response.SuccessWithMessage(c, "删除成功", nil)
}
