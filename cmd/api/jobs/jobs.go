package jobs

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	app "github.com/mark3748/jobdesk-go/cmd/api/app"
	authpkg "github.com/mark3748/jobdesk-go/cmd/api/auth"
	metrics "github.com/mark3748/jobdesk-go/cmd/api/metrics"
	"github.com/mark3748/jobdesk-go/internal/jobs"
)

// statusReq is the body of PUT /jobs/:jobRef/status. The actor always comes
// from the authenticated caller.
type statusReq struct {
	JobStatus string `json:"job_status"`
}

type remarkReq struct {
	Remark    string   `json:"remark"`
	JobStatus string   `json:"job_status"`
	Images    []string `json:"images"`
}

func fail(c *gin.Context, op string, err error) {
	metrics.JobErrorsTotal.WithLabelValues(op, jobs.Kind(err)).Inc()
	app.RenderError(c, err)
}

func actor(c *gin.Context) (string, bool) {
	ref, ok := authpkg.Actor(c)
	if !ok {
		app.AbortError(c, http.StatusUnauthorized, "unauthorized", "unauthenticated", nil)
	}
	return ref, ok
}

// List returns every job with its latest history entry. ?status= filters.
func List(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		out, err := a.Jobs.ListJobs(c.Request.Context(), c.Query("status"))
		if err != nil {
			fail(c, "list", err)
			return
		}
		c.JSON(http.StatusOK, out)
	}
}

// ListByStatus is List with the status taken from the path.
func ListByStatus(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		out, err := a.Jobs.ListJobs(c.Request.Context(), c.Param("status"))
		if err != nil {
			fail(c, "list", err)
			return
		}
		c.JSON(http.StatusOK, out)
	}
}

func Get(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		d, err := a.Jobs.GetJobDetail(c.Request.Context(), c.Param("jobRef"))
		if err != nil {
			fail(c, "get", err)
			return
		}
		c.JSON(http.StatusOK, d)
	}
}

func History(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		out, err := a.Jobs.JobHistory(c.Request.Context(), c.Param("jobRef"))
		if err != nil {
			fail(c, "history", err)
			return
		}
		c.JSON(http.StatusOK, out)
	}
}

func Actions(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		out, err := a.Jobs.Actions(c.Request.Context(), c.Param("jobRef"))
		if err != nil {
			fail(c, "actions", err)
			return
		}
		c.JSON(http.StatusOK, out)
	}
}

// Create opens a job. service_ref defaults to the caller.
func Create(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in jobs.CreateInput
		if !app.BindJSON(c, &in) {
			return
		}
		if in.ServiceRef == "" {
			ref, ok := actor(c)
			if !ok {
				return
			}
			in.ServiceRef = ref
		}
		job, err := a.Jobs.CreateJob(c.Request.Context(), in)
		if err != nil {
			fail(c, "create", err)
			return
		}
		metrics.JobsCreatedTotal.Inc()
		c.JSON(http.StatusCreated, job)
	}
}

// UpdateStatus transitions the job on behalf of the caller and returns the
// appended history entry.
func UpdateStatus(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		ref, ok := actor(c)
		if !ok {
			return
		}
		var req statusReq
		if !app.BindJSON(c, &req) {
			return
		}
		entry, err := a.Jobs.TransitionStatus(c.Request.Context(), jobs.TransitionInput{
			JobRef:    c.Param("jobRef"),
			NewStatus: req.JobStatus,
			ActorRef:  ref,
		})
		if err != nil {
			fail(c, "transition", err)
			return
		}
		metrics.StatusTransitionsTotal.WithLabelValues(strings.ToLower(req.JobStatus)).Inc()
		c.JSON(http.StatusOK, entry)
	}
}

// UpdateRemark annotates the latest history entry and labels the given
// images with job_status.
func UpdateRemark(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req remarkReq
		if !app.BindJSON(c, &req) {
			return
		}
		entry, err := a.Jobs.RecordRemark(c.Request.Context(), jobs.RemarkInput{
			JobRef:    c.Param("jobRef"),
			Remark:    req.Remark,
			JobStatus: req.JobStatus,
			Images:    req.Images,
		})
		if err != nil {
			fail(c, "remark", err)
			return
		}
		metrics.RemarksRecordedTotal.Inc()
		c.JSON(http.StatusOK, entry)
	}
}

func Delete(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := a.Jobs.DeleteJob(c.Request.Context(), c.Param("jobRef")); err != nil {
			fail(c, "delete", err)
			return
		}
		metrics.JobsDeletedTotal.Inc()
		c.Status(http.StatusNoContent)
	}
}

// ImageUploadURL presigns an upload for a new image of an existing job. The
// returned image_url is what the client later sends with a remark.
func ImageUploadURL(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.Images == nil {
			app.AbortError(c, http.StatusServiceUnavailable, "uploads_disabled", "object storage not configured", nil)
			return
		}
		var req struct {
			Filename string `json:"filename" binding:"required"`
		}
		if !app.BindJSON(c, &req) {
			return
		}
		jobRef := c.Param("jobRef")
		if _, err := a.Jobs.GetJobDetail(c.Request.Context(), jobRef); err != nil {
			fail(c, "image_upload", err)
			return
		}
		up, err := a.Images.ImageUpload(c.Request.Context(), jobRef, req.Filename, a.Cfg.ImageURLTTL, time.Now().UTC())
		if err != nil {
			fail(c, "image_upload", err)
			return
		}
		c.JSON(http.StatusOK, up)
	}
}
