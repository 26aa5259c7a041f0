package httpapi

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"

	"github.com/petrijr/hexflow/pkg/api"
)

const (
	fromParam  = "from"
	tokenParam = "workflow_token"

	maxFormMemory = 10 << 20
)

// readAdvance extracts the advance request from /next. "from" and
// "workflow_token" may come from the query string or the form body; step
// data comes from the form body on POST and from the query string on GET.
func readAdvance(c *gin.Context) (api.AdvanceRequest, error) {
	var values url.Values
	if c.Request.Method == http.MethodPost {
		if err := c.Request.ParseMultipartForm(maxFormMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
			return api.AdvanceRequest{}, err
		}
		values = c.Request.PostForm
	} else {
		values = c.Request.URL.Query()
	}

	req := api.AdvanceRequest{
		From:  firstNonEmpty(c.Query(fromParam), values.Get(fromParam)),
		Token: firstNonEmpty(c.Query(tokenParam), values.Get(tokenParam)),
		Data:  stepData(values),
	}
	return req, nil
}

// stepData turns submitted values into step data; repeated keys become lists.
func stepData(values url.Values) api.StepData {
	data := api.StepData{}
	for key, vs := range values {
		if key == fromParam || key == tokenParam || len(vs) == 0 {
			continue
		}
		data[key] = api.FromValues(vs)
	}
	return data
}

func firstNonEmpty(vs ...string) string {
	for _, v := range vs {
		if v != "" {
			return v
		}
	}
	return ""
}
