package products

import (
	"net/http"

	"github.com/gin-gonic/gin"

	app "github.com/mark3748/jobdesk-go/cmd/api/app"
	"github.com/mark3748/jobdesk-go/internal/catalog"
)

func List(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		out, err := a.Catalog.ListProducts(c.Request.Context())
		if err != nil {
			app.RenderError(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	}
}

func Create(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in catalog.Product
		if !app.BindJSON(c, &in) {
			return
		}
		out, err := a.Catalog.CreateProduct(c.Request.Context(), in)
		if err != nil {
			app.RenderError(c, err)
			return
		}
		c.JSON(http.StatusCreated, out)
	}
}

// Update overwrites the product named in the path.
func Update(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in catalog.Product
		if !app.BindJSON(c, &in) {
			return
		}
		in.ProductRef = c.Param("productRef")
		out, err := a.Catalog.UpdateProduct(c.Request.Context(), in)
		if err != nil {
			app.RenderError(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	}
}

func ListCategories(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		out, err := a.Catalog.ListCategories(c.Request.Context())
		if err != nil {
			app.RenderError(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	}
}

func CreateCategory(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in struct {
			Name string `json:"name"`
		}
		if !app.BindJSON(c, &in) {
			return
		}
		out, err := a.Catalog.CreateCategory(c.Request.Context(), in.Name)
		if err != nil {
			app.RenderError(c, err)
			return
		}
		c.JSON(http.StatusCreated, out)
	}
}
