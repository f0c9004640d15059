// rgbir_cache builds a paired RGB/IR dataset, optionally caching its images, and prints a report of it.
//
// Example:
//
//	rgbir_cache -rgb ~/data/rgb/images -ir ~/data/ir/images -cache disk -summary -batches
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/rgbir/pkg/imgcache"
	"github.com/gomlx/rgbir/pkg/labels"
	"github.com/gomlx/rgbir/pkg/paired"
	"github.com/gomlx/rgbir/pkg/support/fsutil"
	"github.com/gomlx/rgbir/pkg/support/xslices"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	flagRGB = xslices.Flag("rgb", nil, "Comma-separated list of directories or manifest files with the RGB images.",
		fsutil.ReplaceTildeInDir)
	flagIR = xslices.Flag("ir", nil, "Comma-separated list of directories or manifest files with the infrared images.",
		fsutil.ReplaceTildeInDir)

	flagConfig = flag.String("config", "", "YAML file with the dataset configuration. Flags given explicitly take precedence.")

	flagImgSize     = flag.Int("imgsz", 640, "Size images are resized to.")
	flagCache       = flag.String("cache", "none", `Cache mode: "ram", "disk" or "none".`)
	flagAugment     = flag.Bool("augment", true, "Keep a buffer of recently loaded images, as used for augmentation.")
	flagRect        = flag.Bool("rect", false, "Use rectangular batches.")
	flagBatch       = flag.Int("batch", 16, "Batch size.")
	flagStride      = flag.Int("stride", 32, "Stride that rectangular batch shapes are a multiple of.")
	flagPad         = flag.Float64("pad", 0.5, "Padding of rectangular batch shapes, in units of stride.")
	flagFraction    = flag.Float64("fraction", 1.0, "Fraction of the images to use.")
	flagClasses     = xslices.Flag("classes", nil, "Comma-separated list of class ids to keep. Empty keeps all.", strconv.Atoi)
	flagSingleClass = flag.Bool("single_cls", false, "Set the class of all objects to 0.")
	flagWorkers     = flag.Int("workers", runtime.NumCPU(), "Number of images cached in parallel, -1 for unlimited.")
	flagKeypoints   = xslices.Flag("kpt_shape", nil,
		`Keypoints shape in the label files, e.g. "17,3". Empty if there are no keypoints.`, strconv.Atoi)

	flagSummary = flag.Bool("summary", true, "Display a summary of the dataset.")
	flagBatches = flag.Bool("batches", false, "List the rectangular batch shapes.")
	flagSamples = flag.Int("samples", 0, "Load and list the first N samples.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	if len(*flagRGB) == 0 || len(*flagIR) == 0 {
		klog.Errorf("Both -rgb and -ir must be given. See 'rgbir_cache -help'.")
		os.Exit(1)
	}

	cfg := paired.DefaultConfig()
	if *flagConfig != "" {
		cfg = must.M1(paired.LoadConfig(must.M1(fsutil.ReplaceTildeInDir(*flagConfig))))
	}
	must.M(applyFlags(&cfg))
	cfg.ShowProgress = true

	provider := &paired.YOLOProvider{Reader: labels.YOLOReader{KeypointShape: must.M1(keypointShape(*flagKeypoints))}}
	start := time.Now()
	ds := must.M1(paired.New(*flagRGB, *flagIR, provider, cfg))
	elapsed := time.Since(start)

	if *flagSummary {
		summary(ds, elapsed)
	}
	if *flagBatches {
		batches(ds)
	}
	if *flagSamples > 0 {
		samples(ds, *flagSamples)
	}
}

// applyFlags overwrites the configuration with the flags explicitly set in the command line.
func applyFlags(cfg *paired.Config) (err error) {
	flag.Visit(func(f *flag.Flag) {
		if err != nil {
			return
		}
		switch f.Name {
		case "imgsz":
			cfg.ImgSize = *flagImgSize
		case "cache":
			cfg.Cache, err = paired.ParseCacheMode(*flagCache)
		case "augment":
			cfg.Augment = *flagAugment
		case "rect":
			cfg.Rect = *flagRect
		case "batch":
			cfg.BatchSize = *flagBatch
		case "stride":
			cfg.Stride = *flagStride
		case "pad":
			cfg.Pad = *flagPad
		case "fraction":
			cfg.Fraction = *flagFraction
		case "classes":
			cfg.Classes = nil
			if len(*flagClasses) > 0 {
				cfg.Classes = *flagClasses
			}
		case "single_cls":
			cfg.SingleClass = *flagSingleClass
		case "workers":
			cfg.Workers = *flagWorkers
		}
	})
	if err != nil {
		return err
	}
	return cfg.Validate()
}

func keypointShape(dims []int) (shape [2]int, err error) {
	if len(dims) == 0 {
		return
	}
	if len(dims) != 2 || dims[0] <= 0 || (dims[1] != 2 && dims[1] != 3) {
		err = errors.Errorf("invalid -kpt_shape %v, it must be \"<num_keypoints>,<2 or 3>\"", dims)
		return
	}
	return [2]int{dims[0], dims[1]}, nil
}

// diskCacheBytes returns the total size of the preprocessed files of the images.
func diskCacheBytes(imageFiles []string) (total int64, count int) {
	for _, imageFile := range imageFiles {
		if info, err := os.Stat(imgcache.CachePath(imageFile)); err == nil {
			total += info.Size()
			count++
		}
	}
	return
}

func summary(ds *paired.Dataset, elapsed time.Duration) {
	cfg := ds.Config()
	fmt.Println(titleStyle.Render("Summary"))
	table := newPlainTable(lipgloss.Right, lipgloss.Left)
	table.Row("rgb", strings.Join(*flagRGB, ", "))
	table.Row("ir", strings.Join(*flagIR, ", "))
	table.Row("# samples", humanize.Comma(int64(ds.Len())))
	table.Row("image size", strconv.Itoa(cfg.ImgSize))
	table.Row("cache", cfg.Cache.String())
	table.Row("rectangular", strconv.FormatBool(cfg.Rect))
	if cfg.Rect {
		table.Row("# batches", humanize.Comma(int64(len(ds.BatchShapes()))))
	}
	table.Row("buffer length", humanize.Comma(int64(ds.MaxBufferLength())))
	table.Row("resident memory", humanize.Bytes(uint64(ds.ResidentBytes())))
	for _, m := range []paired.Modality{paired.RGB, paired.IR} {
		total, count := diskCacheBytes(ds.ImageFiles(m))
		table.Row(fmt.Sprintf("%s %s files", m, imgcache.Extension),
			fmt.Sprintf("%s (%s)", humanize.Comma(int64(count)), humanize.Bytes(uint64(total))))
	}
	table.Row("build time", elapsed.Round(time.Millisecond).String())
	fmt.Println(table.Render())
}

func batches(ds *paired.Dataset) {
	fmt.Println(titleStyle.Render("Batches"))
	batchShapes := ds.BatchShapes()
	if batchShapes == nil {
		fmt.Println("Rectangular batches are disabled, use -rect.")
		return
	}
	counts := make([]int, len(batchShapes))
	for i := range ds.Len() {
		counts[ds.BatchOf(i)]++
	}
	table := newPlainTable(lipgloss.Right)
	table.Headers("Batch", "Shape", "# Images")
	for b, s := range batchShapes {
		table.Row(strconv.Itoa(b), s.String(), strconv.Itoa(counts[b]))
	}
	fmt.Println(table.Render())
}

func samples(ds *paired.Dataset, n int) {
	fmt.Println(titleStyle.Render("Samples"))
	table := newPlainTable(lipgloss.Right, lipgloss.Left, lipgloss.Left, lipgloss.Right)
	table.Headers("Index", "RGB", "IR", "# Objects", "Original", "Resized")
	for i := range min(n, ds.Len()) {
		sample := must.M1(ds.Get(i))
		table.Row(strconv.Itoa(i), filepath.Base(sample.ImageFile), filepath.Base(sample.ImageFileIR),
			strconv.Itoa(sample.NumObjects()), sample.OriginalShape.String(), sample.ResizedShape.String())
	}
	fmt.Println(table.Render())
}
