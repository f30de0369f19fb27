// Package bins holds the static size-class tables used to reset page queues
// and span queues to their canonical empty state.
//
// Bin selection (mapping a request size to a bin) is done by the segment
// manager; this package only describes the bins.
package bins

const (
	// WordSize is the allocation word in bytes.
	WordSize = 8

	// PageMaxWords is the largest block size, in words, served by a regular page bin (4 MiB).
	PageMaxWords = 524288

	// PageBinHuge is the bin holding pages of huge blocks.
	PageBinHuge = 73

	// PageBinFull is the bin holding full pages.
	PageBinFull = PageBinHuge + 1

	// PageBins is the number of page queue bins, including the huge and full bins.
	PageBins = PageBinFull + 1

	// SpanBins is the number of segment span queue bins.
	SpanBins = 36

	// exactWords is the number of bins with an exact word size (bins 1..8).
	exactWords = 8

	// stepsPerOctave is the number of bins between consecutive powers of two.
	stepsPerOctave = 4
)

// pageWords is the block size in words per page bin. Filled once at package init.
var pageWords = newPageTable()

// spanSlices is the slice count per span queue bin.
var spanSlices = [SpanBins]uint32{
	1, 1, 2, 3, 4, 5, 6, 7, 10, // 8
	12, 14, 16, 20, 24, 28, 32, // 15
	40, 48, 56, 64, 80, 96, 112, 128, // 23
	160, 192, 224, 256, 320, 384, 448, 512, // 31
	640, 768, 896, 1024, // 35
}

// newPageTable computes the page bin block sizes.
//
// Bin 0 is a 1-word placeholder, bins 1..8 are exact, then every power-of-two
// octave is split in four steps up to PageMaxWords.
func newPageTable() [PageBins]uint32 {
	var table [PageBins]uint32
	table[0] = 1

	// Phase 1: exact word sizes
	bin := 1
	for w := uint32(1); w <= exactWords; w++ {
		table[bin] = w
		bin++
	}

	// Phase 2: four steps per octave
	for base := uint32(exactWords); base < PageMaxWords; base *= 2 {
		step := base / stepsPerOctave
		for i := uint32(1); i <= stepsPerOctave; i++ {
			table[bin] = base + i*step
			bin++
		}
	}

	if bin != PageBinHuge {
		panic("bins: page table does not end at the huge bin")
	}
	table[PageBinHuge] = PageMaxWords + 1
	table[PageBinFull] = PageMaxWords + 2
	return table
}

// PageWords returns the block size, in words, of page bin b.
func PageWords(b int) uint32 {
	return pageWords[b]
}

// PageBlockSize returns the block size, in bytes, of page bin b.
func PageBlockSize(b int) uint32 {
	return pageWords[b] * WordSize
}

// SpanSlices returns the slice count of span bin b.
func SpanSlices(b int) uint32 {
	return spanSlices[b]
}
