package params

// Builder assembles a Descriptor starting from Default.
type Builder struct {
	d Descriptor
}

// NewBuilder creates a builder seeded with Default().
func NewBuilder() *Builder {
	return &Builder{d: Default()}
}

// From creates a builder seeded with an existing descriptor.
func From(d Descriptor) *Builder {
	return &Builder{d: d}
}

func (b *Builder) Images(n int) *Builder {
	b.d.NumImages = n
	return b
}

// Channels sets the per-group input and output channel counts.
func (b *Builder) Channels(in, out int) *Builder {
	b.d.InChannels = in
	b.d.OutChannels = out
	return b
}

func (b *Builder) Groups(g int) *Builder {
	b.d.NumGroups = g
	return b
}

// Dims sets the spatial height and width.
func (b *Builder) Dims(y, x int) *Builder {
	b.d.YDim = y
	b.d.XDim = x
	return b
}

// Kernel sets the convolution window, stride and padding.
func (b *Builder) Kernel(ksize, stride, pad int) *Builder {
	b.d.KSize = ksize
	b.d.Stride = stride
	b.d.Pad = pad
	return b
}

func (b *Builder) Pool(pksize int) *Builder {
	b.d.Pool = true
	b.d.PKSize = pksize
	return b
}

func (b *Builder) Backward(on bool) *Builder {
	b.d.Backward = on
	return b
}

func (b *Builder) Relu(on bool) *Builder {
	b.d.Relu = on
	return b
}

// Tiling sets the hardware tiling hints.
func (b *Builder) Tiling(burstChannels, rpo, rpofm, burstYDim, xtilePad int) *Builder {
	b.d.BurstChannels = burstChannels
	b.d.RPO = rpo
	b.d.RPOFM = rpofm
	b.d.BurstYDim = burstYDim
	b.d.XTilePad = xtilePad
	return b
}

// Descriptor returns the descriptor as assembled, without validating it.
func (b *Builder) Descriptor() Descriptor {
	return b.d
}

// Build validates and returns the descriptor.
func (b *Builder) Build() (Descriptor, error) {
	if err := b.d.Validate(); err != nil {
		return Descriptor{}, err
	}
	return b.d, nil
}
