package cache_test

import (
	"context"
	"errors"
	"image"
	"image/gif"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/caarmen/image-resizer/pkg/cache"
	"github.com/caarmen/image-resizer/pkg/fetch"
	"github.com/caarmen/image-resizer/pkg/imaging"
)

const sourceURL = "https://images.example.com/source.png"

var _ = Describe("Engine", func() {
	var (
		ctx     context.Context
		dir     string
		index   cache.Index
		fetcher *countingFetcher
		engine  *cache.Engine
	)

	newEngine := func(opts cache.EngineOptions) *cache.Engine {
		opts.ImagesDir = filepath.Join(dir, "images")
		return cache.NewEngine(index, cache.NewFileLock(filepath.Join(dir, "lockfile.lck")), fetcher, imaging.NewCodec(), opts)
	}

	BeforeEach(func() {
		ctx = context.Background()
		dir = GinkgoT().TempDir()

		sqliteIndex, err := cache.NewSQLiteIndex(filepath.Join(dir, "image-resizer.db"))
		Expect(err).ToNot(HaveOccurred())
		DeferCleanup(sqliteIndex.Close)
		index = sqliteIndex

		fetcher = newCountingFetcher()
		fetcher.Serve(sourceURL, pngBytes(150, 100))
		engine = newEngine(cache.EngineOptions{Workers: 2})
	})

	decodeConfig := func(path string) (image.Config, string) {
		f, err := os.Open(path)
		Expect(err).ToNot(HaveOccurred())
		defer f.Close()
		cfg, name, err := image.DecodeConfig(f)
		Expect(err).ToNot(HaveOccurred())
		return cfg, name
	}

	Describe("Resolve", func() {
		It("should serve a hit without fetching again", func() {
			key := cache.NewKey(sourceURL, 75, 25, imaging.FormatUnspecified, imaging.ScaleFitXY)

			first, err := engine.Resolve(ctx, key, nil)
			Expect(err).ToNot(HaveOccurred())
			second, err := engine.Resolve(ctx, key, nil)
			Expect(err).ToNot(HaveOccurred())

			Expect(second).To(Equal(first))
			Expect(fetcher.Calls(sourceURL)).To(Equal(1))
			Expect(first.FilePath).To(HavePrefix(filepath.Join(dir, "images")))
		})

		It("should regenerate once after the file was deleted externally", func() {
			tick := time.Now()
			engine = newEngine(cache.EngineOptions{
				Clock: func() time.Time {
					tick = tick.Add(time.Second)
					return tick
				},
			})
			key := cache.NewKey(sourceURL, 75, 0, imaging.FormatUnspecified, "")

			first, err := engine.Resolve(ctx, key, nil)
			Expect(err).ToNot(HaveOccurred())
			before, err := index.Get(ctx, key)
			Expect(err).ToNot(HaveOccurred())

			Expect(os.Remove(first.FilePath)).To(Succeed())

			second, err := engine.Resolve(ctx, key, nil)
			Expect(err).ToNot(HaveOccurred())
			Expect(second.FilePath).ToNot(Equal(first.FilePath))
			Expect(second.FilePath).To(BeAnExistingFile())
			Expect(fetcher.Calls(sourceURL)).To(Equal(2))

			after, err := index.Get(ctx, key)
			Expect(err).ToNot(HaveOccurred())
			Expect(after.FilePath).To(Equal(second.FilePath))
			Expect(after.WrittenAt.After(before.WrittenAt)).To(BeTrue())

			_, err = engine.Resolve(ctx, key, nil)
			Expect(err).ToNot(HaveOccurred())
			Expect(fetcher.Calls(sourceURL)).To(Equal(2))
		})

		It("should keep the source format when none is requested", func() {
			artifact, err := engine.Resolve(ctx, cache.NewKey(sourceURL, 75, 0, "", ""), nil)
			Expect(err).ToNot(HaveOccurred())
			Expect(artifact.MimeType).To(Equal("image/png"))
			Expect(artifact.FilePath).To(HaveSuffix(".png"))

			cfg, name := decodeConfig(artifact.FilePath)
			Expect(name).To(Equal("png"))
			Expect(cfg.Width).To(Equal(75))
			Expect(cfg.Height).To(Equal(50))
		})

		It("should encode to the requested format", func() {
			artifact, err := engine.Resolve(ctx, cache.NewKey(sourceURL, 0, 50, imaging.FormatJPEG, ""), nil)
			Expect(err).ToNot(HaveOccurred())
			Expect(artifact.MimeType).To(Equal("image/jpeg"))

			cfg, name := decodeConfig(artifact.FilePath)
			Expect(name).To(Equal("jpeg"))
			Expect(cfg.Width).To(Equal(75))
			Expect(cfg.Height).To(Equal(50))
		})

		It("should produce exactly the requested size when cropping", func() {
			artifact, err := engine.Resolve(ctx, cache.NewKey(sourceURL, 25, 75, "", imaging.ScaleCrop), nil)
			Expect(err).ToNot(HaveOccurred())

			cfg, _ := decodeConfig(artifact.FilePath)
			Expect(cfg.Width).To(Equal(25))
			Expect(cfg.Height).To(Equal(75))
		})

		It("should keep source pixels when the crop box is thinner than a pixel", func() {
			url := "https://images.example.com/thin.png"
			fetcher.Serve(url, pngBytes(1001, 1))

			artifact, err := engine.Resolve(ctx, cache.NewKey(url, 1, 1000, "", imaging.ScaleCrop), nil)
			Expect(err).ToNot(HaveOccurred())

			f, err := os.Open(artifact.FilePath)
			Expect(err).ToNot(HaveOccurred())
			defer f.Close()
			img, err := png.Decode(f)
			Expect(err).ToNot(HaveOccurred())
			Expect(img.Bounds()).To(Equal(image.Rect(0, 0, 1, 1000)))

			_, _, _, alpha := img.At(0, 500).RGBA()
			Expect(alpha).To(Equal(uint32(0xffff)))
		})

		It("should refuse to flatten an animated source into a still format", func() {
			url := "https://images.example.com/animated.gif"
			fetcher.Serve(url, gifBytes(30, 20, 3))

			_, err := engine.Resolve(ctx, cache.NewKey(url, 15, 10, imaging.FormatPNG, ""), nil)
			Expect(err).To(MatchError(imaging.ErrUnsupportedFormat))

			entries, _ := os.ReadDir(filepath.Join(dir, "images"))
			Expect(entries).To(BeEmpty())
		})

		It("should treat each scale type as a distinct key", func() {
			fit, err := engine.Resolve(ctx, cache.NewKey(sourceURL, 25, 75, "", imaging.ScaleFitXY), nil)
			Expect(err).ToNot(HaveOccurred())
			preserve, err := engine.Resolve(ctx, cache.NewKey(sourceURL, 25, 75, "", imaging.ScaleFitPreserveAspectRatio), nil)
			Expect(err).ToNot(HaveOccurred())

			Expect(preserve.FilePath).ToNot(Equal(fit.FilePath))
			Expect(fetcher.Calls(sourceURL)).To(Equal(2))

			cfg, _ := decodeConfig(preserve.FilePath)
			Expect(cfg.Width).To(Equal(25))
			Expect(cfg.Height).To(Equal(16))
		})

		It("should resize every frame of an animated gif", func() {
			url := "https://images.example.com/animated.gif"
			fetcher.Serve(url, gifBytes(150, 100, 3))

			artifact, err := engine.Resolve(ctx, cache.NewKey(url, 75, 25, "", ""), nil)
			Expect(err).ToNot(HaveOccurred())
			Expect(artifact.MimeType).To(Equal("image/gif"))

			f, err := os.Open(artifact.FilePath)
			Expect(err).ToNot(HaveOccurred())
			defer f.Close()
			g, err := gif.DecodeAll(f)
			Expect(err).ToNot(HaveOccurred())
			Expect(g.Image).To(HaveLen(3))
			Expect(g.Config.Width).To(Equal(75))
			Expect(g.Config.Height).To(Equal(25))
		})

		It("should collapse concurrent identical misses", func() {
			key := cache.NewKey(sourceURL, 40, 40, "", "")

			var wg sync.WaitGroup
			paths := make([]string, 8)
			for i := range paths {
				wg.Add(1)
				go func(i int) {
					defer GinkgoRecover()
					defer wg.Done()
					artifact, err := engine.Resolve(ctx, key, nil)
					Expect(err).ToNot(HaveOccurred())
					paths[i] = artifact.FilePath
				}(i)
			}
			wg.Wait()

			Expect(fetcher.Calls(sourceURL)).To(Equal(1))
			for _, p := range paths {
				Expect(p).To(Equal(paths[0]))
			}
		})

		Context("when the request cannot be served", func() {
			It("should surface upstream errors without writing a record", func() {
				key := cache.NewKey("https://images.example.com/missing.png", 10, 10, "", "")

				_, err := engine.Resolve(ctx, key, nil)
				var statusErr *fetch.StatusError
				Expect(errors.As(err, &statusErr)).To(BeTrue())
				Expect(statusErr.StatusCode).To(Equal(404))
				Expect(err).To(MatchError(fetch.ErrFetch))

				_, err = index.Get(ctx, key)
				Expect(err).To(MatchError(cache.ErrCacheNotFound))
			})

			It("should surface decode failures", func() {
				url := "https://images.example.com/text.png"
				fetcher.Serve(url, []byte("not an image"))

				_, err := engine.Resolve(ctx, cache.NewKey(url, 10, 10, "", ""), nil)
				Expect(err).To(MatchError(imaging.ErrDecode))
			})

			It("should refuse formats the codec cannot write", func() {
				key := cache.NewKey(sourceURL, 10, 10, imaging.FormatWEBP, "")

				_, err := engine.Resolve(ctx, key, nil)
				Expect(err).To(MatchError(imaging.ErrUnsupportedFormat))

				entries, _ := os.ReadDir(filepath.Join(dir, "images"))
				Expect(entries).To(BeEmpty())
			})

			It("should report storage failures", func() {
				blocker := filepath.Join(dir, "blocker")
				Expect(os.WriteFile(blocker, nil, 0644)).To(Succeed())
				engine = cache.NewEngine(index, cache.NewFileLock(filepath.Join(dir, "lockfile.lck")), fetcher, imaging.NewCodec(),
					cache.EngineOptions{ImagesDir: filepath.Join(blocker, "images")})

				_, err := engine.Resolve(ctx, cache.NewKey(sourceURL, 10, 10, "", ""), nil)
				Expect(err).To(MatchError(cache.ErrStorage))
			})
		})
	})

	Context("with the in-memory index", func() {
		BeforeEach(func() {
			index = cache.NewMemoryIndex()
			engine = newEngine(cache.EngineOptions{})
		})

		It("should serve a hit without fetching again", func() {
			key := cache.NewKey(sourceURL, 30, 30, imaging.FormatGIF, "")

			first, err := engine.Resolve(ctx, key, nil)
			Expect(err).ToNot(HaveOccurred())
			second, err := engine.Resolve(ctx, key, nil)
			Expect(err).ToNot(HaveOccurred())

			Expect(second).To(Equal(first))
			Expect(first.MimeType).To(Equal("image/gif"))
			Expect(fetcher.Calls(sourceURL)).To(Equal(1))
		})
	})
})
