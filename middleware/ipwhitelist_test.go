package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fromIP requests /admin as if sent by ip. gin trusts X-Real-IP from any
// peer unless trusted proxies are configured.
func fromIP(r http.Handler, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	if ip != "" {
		req.Header.Set("X-Real-IP", ip)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestIPWhitelist(t *testing.T) {
	cases := []struct {
		name  string
		allow []string
		ip    string
		want  int
	}{
		{"empty list allows all", nil, "203.0.113.9", http.StatusOK},
		{"exact match", []string{"192.168.1.1"}, "192.168.1.1", http.StatusOK},
		{"not listed", []string{"10.0.0.1", "10.0.0.2"}, "10.0.0.3", http.StatusForbidden},
		{"second entry", []string{"10.0.0.1", "10.0.0.2"}, "10.0.0.2", http.StatusOK},
		{"inside cidr", []string{"10.20.0.0/16"}, "10.20.3.4", http.StatusOK},
		{"outside cidr", []string{"10.20.0.0/16"}, "10.21.0.1", http.StatusForbidden},
		{"ipv6 cidr", []string{"2001:db8::/32"}, "2001:db8::7", http.StatusOK},
		{"garbage entry ignored", []string{"not-an-ip"}, "10.0.0.1", http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := gin.New()
			r.Use(IPWhitelist(tc.allow))
			r.GET("/admin", func(c *gin.Context) { c.Status(http.StatusOK) })

			w := fromIP(r, tc.ip)
			assert.Equal(t, tc.want, w.Code)
			if tc.want == http.StatusForbidden {
				assert.Contains(t, w.Body.String(), `"code":"forbidden"`)
			}
		})
	}
}
