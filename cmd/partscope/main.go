// Command partscope prepares fine-grained image datasets for metric
// learning. It samples anchor/positive/negative triplets from a chosen
// dataset, or, given a saved attention-map tensor, locates the part centroids
// and optionally renders them as overlays.
package main

import (
	"flag"
	"io"
	"log"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	mldatasets "github.com/gomlx/gomlx/pkg/ml/datasets"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"

	"github.com/mkruijt/partscope/datasets"
	"github.com/mkruijt/partscope/geometry"
	"github.com/mkruijt/partscope/viz"
)

func main() {
	datasetKind := flag.String("dataset", "cub", "dataset kind: whale, cub or partseg")
	dataPath := flag.String("data", "", "dataset root directory")
	splitName := flag.String("split", "train", "split to sample: train, val, test or all")
	heightsFlag := flag.String("heights", "256,256,256", "comma-separated anchor,positive,negative render heights")
	seed := flag.Int64("seed", 42, "seed for the train/validation shuffle")
	draws := flag.Int("n", 0, "number of triplets to draw (0 = one full epoch)")
	parallel := flag.Bool("parallel", true, "draw triplets with parallel workers")
	altData := flag.String("alt-data", "", "directory of replacement whale images")
	mapsPath := flag.String("maps", "", "saved attention-map tensor to locate centroids in (skips sampling)")
	imagesPath := flag.String("images", "", "saved image tensor to overlay the maps on; requires -maps")
	outDir := flag.String("out", "results", "output directory for overlay plots")
	size := flag.Int("size", 256, "overlay canvas size in pixels")
	flag.Parse()

	if *mapsPath != "" {
		runCentroids(*mapsPath, *imagesPath, *outDir, *size)
		return
	}
	if *imagesPath != "" {
		log.Fatalf("-images requires -maps")
	}
	if *dataPath == "" {
		log.Fatalf("-data is required when sampling triplets")
	}

	split, err := parseSplit(*splitName)
	if err != nil {
		log.Fatalf("%v", err)
	}
	heights, err := parseHeights(*heightsFlag)
	if err != nil {
		log.Fatalf("%v", err)
	}

	src, err := openSource(*datasetKind, *dataPath, split, *seed, *altData)
	if err != nil {
		log.Fatalf("failed to open %s dataset: %v", *datasetKind, err)
	}
	log.Printf("%s %s split loaded: %d samples", *datasetKind, split, src.Len())

	sampler := datasets.NewTripletSampler(src, heights)
	var ds train.Dataset = sampler
	if *parallel {
		pds := mldatasets.Parallel(sampler)
		defer pds.Done()
		ds = pds
	}

	n := *draws
	if n <= 0 {
		n = src.Len()
	}
	bar := progressbar.Default(int64(n), "sampling triplets")
	var totalBytes uint64
	drawn := 0
	for drawn < n {
		_, inputs, _, err := ds.Yield()
		if err == io.EOF {
			if *draws == 0 {
				break
			}
			ds.Reset()
			continue
		}
		if err != nil {
			log.Fatalf("triplet draw %d failed: %v", drawn, err)
		}
		for _, img := range inputs {
			totalBytes += uint64(img.Shape().Memory())
		}
		drawn++
		_ = bar.Add(1)
	}
	log.Printf("drew %d triplets (%s of image data)", drawn, humanize.Bytes(totalBytes))
}

// runCentroids locates the part centroids of a saved attention-map tensor.
// With an image tensor it renders overlay plots into the next epoch
// directory; without one it prints the coordinates.
func runCentroids(mapsPath, imagesPath, outDir string, size int) {
	maps, err := tensors.Load(mapsPath)
	if err != nil {
		log.Fatalf("failed to load attention maps from %s: %v", mapsPath, err)
	}

	if imagesPath == "" {
		lm, err := geometry.LandmarkCoordinates(maps)
		if err != nil {
			log.Fatalf("failed to locate centroids: %v", err)
		}
		for b := range lm.X {
			for p := range lm.X[b] {
				log.Printf("sample %d part %d: centroid (%.2f, %.2f)", b, p, lm.X[b][p], lm.Y[b][p])
			}
		}
		return
	}

	images, err := tensors.Load(imagesPath)
	if err != nil {
		log.Fatalf("failed to load images from %s: %v", imagesPath, err)
	}
	epoch, err := viz.LastEpoch(outDir)
	if err != nil {
		log.Fatalf("failed to scan %s: %v", outDir, err)
	}
	epoch++
	exporter := viz.NewExporter(outDir, size)
	if err := exporter.SaveMaps(images, maps, epoch, nil); err != nil {
		log.Fatalf("failed to render overlays: %v", err)
	}
	log.Printf("overlays written to %s/epoch_%d", outDir, epoch)
}

// openSource builds the requested dataset. For a CUB validation split the
// matching training split is built first, so the two stay disjoint.
func openSource(kind, dataPath string, split datasets.Split, seed int64, altData string) (datasets.Source, error) {
	switch kind {
	case "whale":
		src, err := datasets.NewWhaleSource(dataPath, split)
		if err != nil {
			return nil, err
		}
		if altData != "" {
			src.WithAltDataPath(altData)
		}
		return src, nil
	case "cub":
		var trainSamples []int
		if split == datasets.SplitVal {
			trainSrc, err := datasets.NewCUBSource(dataPath, datasets.SplitTrain, seed, nil)
			if err != nil {
				return nil, err
			}
			trainSamples = trainSrc.TrainSamples()
		}
		return datasets.NewCUBSource(dataPath, split, seed, trainSamples)
	case "partseg":
		return datasets.NewPartSegSource(dataPath, split)
	}
	return nil, errors.Errorf("unknown dataset kind %q; want whale, cub or partseg", kind)
}

func parseSplit(name string) (datasets.Split, error) {
	switch strings.ToLower(name) {
	case "train":
		return datasets.SplitTrain, nil
	case "val":
		return datasets.SplitVal, nil
	case "test":
		return datasets.SplitTest, nil
	case "all":
		return datasets.SplitAll, nil
	}
	return 0, errors.Errorf("unknown split %q; want train, val, test or all", name)
}

func parseHeights(s string) (datasets.HeightList, error) {
	fields := strings.Split(s, ",")
	if len(fields) == 1 {
		// A single value applies to all three roles.
		h, err := strconv.Atoi(strings.TrimSpace(fields[0]))
		if err != nil || h <= 0 {
			return datasets.HeightList{}, errors.Errorf("invalid height %q", s)
		}
		return datasets.HeightList{h, h, h}, nil
	}
	if len(fields) != 3 {
		return datasets.HeightList{}, errors.Errorf("-heights wants one or three comma-separated values, got %q", s)
	}
	var heights datasets.HeightList
	for i, field := range fields {
		h, err := strconv.Atoi(strings.TrimSpace(field))
		if err != nil || h <= 0 {
			return datasets.HeightList{}, errors.Errorf("invalid height %q", field)
		}
		heights[i] = h
	}
	return heights, nil
}
