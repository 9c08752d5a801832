package exports

import (
	"encoding/csv"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	app "github.com/mark3748/jobdesk-go/cmd/api/app"
)

var jobsHeader = []string{"job_ref", "serial_number", "job_status", "service_ref", "username",
	"product_name", "sku", "customer_contact", "created_at", "latest_update_at", "latest_update_by", "expected_completion_date"}

func fmtTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// Jobs streams the job list as CSV. ?status= filters like GET /jobs.
func Jobs(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := a.Jobs.ListJobs(c.Request.Context(), c.Query("status"))
		if err != nil {
			app.RenderError(c, err)
			return
		}
		c.Header("Content-Type", "text/csv")
		c.Header("Content-Disposition", `attachment; filename="jobs-`+time.Now().UTC().Format("20060102")+`.csv"`)
		c.Status(http.StatusOK)
		w := csv.NewWriter(c.Writer)
		_ = w.Write(jobsHeader)
		for _, j := range list {
			by := ""
			if j.LatestUpdateBy != nil {
				by = *j.LatestUpdateBy
			}
			created, latest := j.CreatedAt, j.LatestUpdateAt
			_ = w.Write([]string{j.JobRef, j.SerialNumber, j.JobStatus, j.ServiceRef, j.Username,
				j.ProductName, j.SKU, j.CustomerContact, fmtTime(&created), fmtTime(&latest), by, fmtTime(j.ExpectedCompletionDate)})
		}
		w.Flush()
	}
}

// History streams one job's history as CSV, newest first.
func History(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobRef := c.Param("jobRef")
		hist, err := a.Jobs.JobHistory(c.Request.Context(), jobRef)
		if err != nil {
			app.RenderError(c, err)
			return
		}
		c.Header("Content-Type", "text/csv")
		c.Header("Content-Disposition", `attachment; filename="`+jobRef+`-history.csv"`)
		c.Status(http.StatusOK)
		w := csv.NewWriter(c.Writer)
		_ = w.Write([]string{"id", "updated_at", "job_status", "quantity", "unit", "created_by", "updated_by", "remark"})
		for _, e := range hist {
			updated := e.UpdatedAt
			_ = w.Write([]string{strconv.FormatInt(e.ID, 10), fmtTime(&updated), e.JobStatus, strconv.Itoa(e.Quantity), e.Unit,
				deref(e.CreatedBy), deref(e.UpdatedBy), deref(e.Remark)})
		}
		w.Flush()
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
