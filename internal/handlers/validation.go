package handlers

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/dentaldesk/internal/docstore"
	"github.com/charlesng35/dentaldesk/internal/repository"
	appErrors "github.com/charlesng35/dentaldesk/pkg/errors"
	"github.com/charlesng35/dentaldesk/pkg/response"
)

// bindDocument binds a JSON object body. When the body is not an object, an
// error response is written and false is returned.
func bindDocument(c *gin.Context) (docstore.Document, bool) {
	var payload map[string]any
	if err := c.ShouldBindJSON(&payload); err != nil || payload == nil {
		response.Error(c, appErrors.NewBadRequest("invalid JSON payload"))
		return nil, false
	}
	return docstore.Document(payload), true
}

// queryFilters turns the request's query string into repository filters.
// Only the first value of a repeated key is used.
func queryFilters(c *gin.Context) ([]repository.Filter, bool) {
	values := c.Request.URL.Query()
	raw := make(map[string]any, len(values))
	for key, list := range values {
		if key == "" || len(list) == 0 {
			continue
		}
		raw[key] = queryValue(list[0])
	}

	filters, err := repository.ParseFilters(raw)
	if err != nil {
		response.Error(c, err)
		return nil, false
	}
	return filters, true
}

// queryValue keeps strings as they are except boolean literals, so
// ?active=true matches a stored boolean.
func queryValue(value string) any {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "false":
		b, _ := strconv.ParseBool(strings.ToLower(strings.TrimSpace(value)))
		return b
	}
	return value
}

func limitOf(filters []repository.Filter) int {
	for _, f := range filters {
		if limit, ok := f.(repository.Limit); ok {
			return limit.N
		}
	}
	return 0
}

func sortFieldOf(filters []repository.Filter) string {
	for _, f := range filters {
		if s, ok := f.(repository.Sort); ok {
			return s.Field
		}
	}
	return ""
}
