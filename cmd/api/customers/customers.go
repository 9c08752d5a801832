package customers

import (
	"net/http"
	"regexp"

	"github.com/gin-gonic/gin"

	app "github.com/mark3748/jobdesk-go/cmd/api/app"
	"github.com/mark3748/jobdesk-go/internal/catalog"
	"github.com/mark3748/jobdesk-go/internal/jobs"
)

var phoneRe = regexp.MustCompile(`^\+?[0-9]{7,15}$`)

// ValidPhone validates a simple international phone number. Empty is
// allowed.
func ValidPhone(p string) bool {
	return p == "" || phoneRe.MatchString(p)
}

// updateReq is a full customer record plus an optional customer_contact that
// is copied onto every job of the customer.
type updateReq struct {
	catalog.Customer
	CustomerContact *string `json:"customer_contact"`
}

func List(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		out, err := a.Catalog.ListCustomers(c.Request.Context())
		if err != nil {
			app.RenderError(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	}
}

func Create(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in catalog.Customer
		if !app.BindJSON(c, &in) {
			return
		}
		if !ValidPhone(in.Phone) {
			app.AbortError(c, http.StatusBadRequest, jobs.KindValidation, "invalid input", map[string]string{"phone": "invalid"})
			return
		}
		out, err := a.Catalog.CreateCustomer(c.Request.Context(), in)
		if err != nil {
			app.RenderError(c, err)
			return
		}
		c.JSON(http.StatusCreated, out)
	}
}

// Update overwrites the customer named in the path.
func Update(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in updateReq
		if !app.BindJSON(c, &in) {
			return
		}
		if !ValidPhone(in.Phone) {
			app.AbortError(c, http.StatusBadRequest, jobs.KindValidation, "invalid input", map[string]string{"phone": "invalid"})
			return
		}
		in.CustomerRef = c.Param("customerRef")
		out, err := a.Catalog.UpdateCustomer(c.Request.Context(), in.Customer, in.CustomerContact)
		if err != nil {
			app.RenderError(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	}
}
