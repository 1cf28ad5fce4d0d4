package resize_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"

	"github.com/labstack/echo/v4"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/stretchr/testify/mock"

	"github.com/caarmen/image-resizer/internal/api/resize"
	"github.com/caarmen/image-resizer/internal/server"
	"github.com/caarmen/image-resizer/pkg/cache"
	"github.com/caarmen/image-resizer/pkg/fetch"
	"github.com/caarmen/image-resizer/pkg/imaging"
)

// mockResolver mocks the Resolver interface
type mockResolver struct {
	mock.Mock
}

func (m *mockResolver) Resolve(_ context.Context, key cache.Key, headers http.Header) (cache.Artifact, error) {
	args := m.Called(key, headers)
	return args.Get(0).(cache.Artifact), args.Error(1)
}

const imageURL = "https://images.example.com/cat.png"

var _ = Describe("Resize handler", func() {
	var (
		e        *echo.Echo
		resolver *mockResolver
		dir      string
	)

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
		resolver = new(mockResolver)

		policy, err := fetch.NewPolicy([]string{"http", "https"}, nil, []string{"*.internal"})
		Expect(err).ToNot(HaveOccurred())
		checker := fetch.New(fetch.Options{Policy: policy})

		e = echo.New()
		e.Validator = server.NewValidator()
		resize.RegisterRoutes(e.Group(""), resize.NewHandler(resolver, checker))
	})

	artifactFile := func(name, content string) string {
		path := filepath.Join(dir, name)
		Expect(os.WriteFile(path, []byte(content), 0644)).To(Succeed())
		return path
	}

	get := func(target string, headers ...string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		for i := 0; i+1 < len(headers); i += 2 {
			req.Header.Set(headers[i], headers[i+1])
		}
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec
	}

	Context("with valid parameters", func() {
		It("should stream the artifact with its mime type", func() {
			path := artifactFile("a.png", "png bytes")
			expected := cache.NewKey(imageURL, 75, 25, imaging.FormatPNG, imaging.ScaleCrop)
			resolver.On("Resolve", expected, mock.MatchedBy(func(h http.Header) bool {
				return h.Get("User-Agent") == fetch.DefaultUserAgent
			})).Return(cache.Artifact{FilePath: path, MimeType: "image/png"}, nil)

			rec := get("/resize?image_url=" + imageURL + "&width=75&height=25&image_format=png&scale_type=crop")

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Header().Get(echo.HeaderContentType)).To(Equal("image/png"))
			Expect(rec.Body.String()).To(Equal("png bytes"))
			resolver.AssertExpectations(GinkgoT())
		})

		It("should default optional parameters", func() {
			path := artifactFile("b.jpeg", "jpeg bytes")
			resolver.On("Resolve", cache.NewKey(imageURL, 0, 0, imaging.FormatUnspecified, imaging.ScaleFitXY), mock.Anything).
				Return(cache.Artifact{FilePath: path, MimeType: "image/jpeg"}, nil)

			rec := get("/resize?image_url=" + imageURL)

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Header().Get(echo.HeaderContentType)).To(Equal("image/jpeg"))
		})

		It("should pass the requested user agent to the image host", func() {
			path := artifactFile("c.gif", "gif bytes")
			resolver.On("Resolve", mock.Anything, mock.MatchedBy(func(h http.Header) bool {
				return h.Get("User-Agent") == "curious-bot"
			})).Return(cache.Artifact{FilePath: path, MimeType: "image/gif"}, nil)

			rec := get("/resize?image_url=" + imageURL + "&user_agent=curious-bot")

			Expect(rec.Code).To(Equal(http.StatusOK))
			resolver.AssertExpectations(GinkgoT())
		})

		It("should resolve again when the artifact disappears before it is served", func() {
			path := artifactFile("d.png", "fresh")
			resolver.On("Resolve", mock.Anything, mock.Anything).
				Return(cache.Artifact{FilePath: filepath.Join(dir, "swept.png"), MimeType: "image/png"}, nil).Once()
			resolver.On("Resolve", mock.Anything, mock.Anything).
				Return(cache.Artifact{FilePath: path, MimeType: "image/png"}, nil).Once()

			rec := get("/resize?image_url=" + imageURL)

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(Equal("fresh"))
			resolver.AssertNumberOfCalls(GinkgoT(), "Resolve", 2)
		})
	})

	DescribeTable("rejecting invalid parameters before resolving",
		func(query string) {
			rec := get("/resize?" + query)

			Expect(rec.Code).To(Equal(http.StatusUnprocessableEntity))
			resolver.AssertNotCalled(GinkgoT(), "Resolve", mock.Anything, mock.Anything)
		},
		Entry("missing url", "width=10"),
		Entry("zero width", "image_url="+imageURL+"&width=0"),
		Entry("negative height", "image_url="+imageURL+"&height=-3"),
		Entry("width too large", "image_url="+imageURL+"&width=1024"),
		Entry("non-integer width", "image_url="+imageURL+"&width=wide"),
		Entry("unknown format", "image_url="+imageURL+"&image_format=heic"),
		Entry("unknown scale type", "image_url="+imageURL+"&scale_type=stretch"),
		Entry("scheme not allowed", "image_url=ftp://images.example.com/cat.png"),
		Entry("domain denied", "image_url=https://db.internal/cat.png"),
		Entry("malformed url", "image_url=cat.png"),
	)

	It("should name the invalid parameter", func() {
		rec := get("/resize?image_url=" + imageURL + "&width=2048")

		Expect(rec.Code).To(Equal(http.StatusUnprocessableEntity))
		Expect(rec.Body.String()).To(ContainSubstring("width must satisfy lt=1024"))
	})

	It("should refuse requests sent by an image resizer", func() {
		rec := get("/resize?image_url="+imageURL, fetch.ClientHeader, "true")

		Expect(rec.Code).To(Equal(http.StatusBadRequest))
		resolver.AssertNotCalled(GinkgoT(), "Resolve", mock.Anything, mock.Anything)
	})

	DescribeTable("mapping resolution errors to statuses",
		func(err error, status int) {
			resolver.On("Resolve", mock.Anything, mock.Anything).Return(cache.Artifact{}, err)

			rec := get("/resize?image_url=" + imageURL)

			Expect(rec.Code).To(Equal(status))
		},
		Entry("upstream not found", &fetch.StatusError{URL: imageURL, StatusCode: http.StatusNotFound}, http.StatusNotFound),
		Entry("upstream forbidden", &fetch.StatusError{URL: imageURL, StatusCode: http.StatusForbidden}, http.StatusForbidden),
		Entry("upstream server error", &fetch.StatusError{URL: imageURL, StatusCode: http.StatusBadGateway}, http.StatusBadGateway),
		Entry("unreachable host", fmt.Errorf("%w: dial tcp: no such host", fetch.ErrFetch), http.StatusUnprocessableEntity),
		Entry("not an image", fmt.Errorf("%w: unknown format", imaging.ErrDecode), http.StatusUnprocessableEntity),
		Entry("format not encodable", fmt.Errorf("%w: webp", imaging.ErrUnsupportedFormat), http.StatusUnprocessableEntity),
		Entry("disk full", fmt.Errorf("%w: no space left on device", cache.ErrStorage), http.StatusInternalServerError),
		Entry("lock failure", fmt.Errorf("%w: permission denied", cache.ErrLock), http.StatusInternalServerError),
	)
})
