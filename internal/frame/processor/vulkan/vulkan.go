// Package vulkan implements the GPU luminance processor: the captured dma-buf
// is imported without a copy, reduced through a capped mip chain with linear
// blits, and the last level is read back and averaged on the CPU.
package vulkan

import (
	"errors"
	"fmt"
	"time"
	"unsafe"

	"github.com/bryanchriswhite/lumad/internal/config"
	"github.com/bryanchriswhite/lumad/internal/frame"
	"github.com/bryanchriswhite/lumad/internal/frame/processor"
	"github.com/bryanchriswhite/lumad/internal/logger"
	vk "github.com/goki/vulkan"
	"github.com/rs/zerolog"
)

const (
	appName       = "lumad\x00"
	bytesPerTexel = 4
)

var deviceExtensions = []string{
	"VK_KHR_external_memory_fd\x00",
	"VK_EXT_external_memory_dma_buf\x00",
}

var errIncomplete = errors.New("frame has missing planes")

func init() {
	processor.Register(config.ProcessorVulkan, func(opts processor.Options) (processor.Processor, error) {
		return New(opts)
	})
}

// transientImage is the reusable mip chain target
type transientImage struct {
	image     vk.Image
	memory    vk.DeviceMemory
	width     uint32
	height    uint32
	mipLevels uint32
}

// Processor owns the process-lifetime GPU context. It is not safe for
// concurrent use; one submission is outstanding at a time.
type Processor struct {
	opts processor.Options
	log  *zerolog.Logger

	instance       vk.Instance
	gpu            vk.PhysicalDevice
	memoryTypes    []processor.MemoryType
	device         vk.Device
	queueFamily    uint32
	queue          vk.Queue
	commandPool    vk.CommandPool
	commandBuffers []vk.CommandBuffer
	fence          vk.Fence

	buffer       vk.Buffer
	bufferMemory vk.DeviceMemory
	bufferSize   uint64

	image *transientImage
}

// New creates the instance, device, queue, command pool, fence and readback
// buffer. Any failure is wrapped in processor.ErrInit.
func New(opts processor.Options) (*Processor, error) {
	p := &Processor{
		opts: opts,
		log:  logger.WithComponent("vulkan"),
	}

	if err := p.init(); err != nil {
		p.Close()
		return nil, fmt.Errorf("%w: %v", processor.ErrInit, err)
	}
	return p, nil
}

func (p *Processor) init() error {
	if err := vk.SetDefaultGetInstanceProcAddr(); err != nil {
		return fmt.Errorf("load vulkan loader: %w", err)
	}
	if err := vk.Init(); err != nil {
		return fmt.Errorf("init vulkan: %w", err)
	}

	appInfo := vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		PApplicationName:   appName,
		ApplicationVersion: vk.MakeVersion(0, 1, 0),
		PEngineName:        appName,
		ApiVersion:         vk.MakeVersion(1, 2, 0),
	}
	var instance vk.Instance
	if err := check(vk.CreateInstance(&vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: &appInfo,
	}, nil, &instance), "create instance"); err != nil {
		return err
	}
	p.instance = instance
	if err := vk.InitInstance(instance); err != nil {
		return fmt.Errorf("init instance: %w", err)
	}

	if err := p.pickDevice(); err != nil {
		return err
	}

	queueInfo := vk.DeviceQueueCreateInfo{
		SType:            vk.StructureTypeDeviceQueueCreateInfo,
		QueueFamilyIndex: p.queueFamily,
		QueueCount:       1,
		PQueuePriorities: []float32{1.0},
	}
	var device vk.Device
	if err := check(vk.CreateDevice(p.gpu, &vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    1,
		PQueueCreateInfos:       []vk.DeviceQueueCreateInfo{queueInfo},
		EnabledExtensionCount:   uint32(len(deviceExtensions)),
		PpEnabledExtensionNames: deviceExtensions,
	}, nil, &device), "create device"); err != nil {
		return err
	}
	p.device = device

	var queue vk.Queue
	vk.GetDeviceQueue(device, p.queueFamily, 0, &queue)
	p.queue = queue

	var pool vk.CommandPool
	if err := check(vk.CreateCommandPool(device, &vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
		QueueFamilyIndex: p.queueFamily,
	}, nil, &pool), "create command pool"); err != nil {
		return err
	}
	p.commandPool = pool

	buffers := make([]vk.CommandBuffer, 1)
	if err := check(vk.AllocateCommandBuffers(device, &vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        pool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}, buffers), "allocate command buffer"); err != nil {
		return err
	}
	p.commandBuffers = buffers

	var fence vk.Fence
	if err := check(vk.CreateFence(device, &vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}, nil, &fence), "create fence"); err != nil {
		return err
	}
	p.fence = fence

	if err := p.allocateBuffer(p.opts.ReadbackBytes); err != nil {
		return err
	}
	return nil
}

// pickDevice selects the first physical device exposing a graphics queue
// and caches its memory types.
func (p *Processor) pickDevice() error {
	var count uint32
	if err := check(vk.EnumeratePhysicalDevices(p.instance, &count, nil), "enumerate devices"); err != nil {
		return err
	}
	if count == 0 {
		return errors.New("no vulkan device found")
	}
	gpus := make([]vk.PhysicalDevice, count)
	if err := check(vk.EnumeratePhysicalDevices(p.instance, &count, gpus), "enumerate devices"); err != nil {
		return err
	}

	for _, gpu := range gpus {
		family, ok := graphicsQueueFamily(gpu)
		if !ok {
			continue
		}
		p.gpu = gpu
		p.queueFamily = family

		var props vk.PhysicalDeviceProperties
		vk.GetPhysicalDeviceProperties(gpu, &props)
		props.Deref()

		var memProps vk.PhysicalDeviceMemoryProperties
		vk.GetPhysicalDeviceMemoryProperties(gpu, &memProps)
		memProps.Deref()
		p.memoryTypes = make([]processor.MemoryType, memProps.MemoryTypeCount)
		for i := range p.memoryTypes {
			memProps.MemoryTypes[i].Deref()
			p.memoryTypes[i] = processor.MemoryType{PropertyFlags: uint32(memProps.MemoryTypes[i].PropertyFlags)}
		}

		p.log.Info().
			Str("device", vk.ToString(props.DeviceName[:])).
			Uint32("queue_family", family).
			Int("memory_types", len(p.memoryTypes)).
			Msg("Using GPU")
		return nil
	}
	return errors.New("no vulkan device with a graphics queue")
}

func graphicsQueueFamily(gpu vk.PhysicalDevice) (uint32, bool) {
	var count uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(gpu, &count, nil)
	families := make([]vk.QueueFamilyProperties, count)
	vk.GetPhysicalDeviceQueueFamilyProperties(gpu, &count, families)
	for i := range families {
		families[i].Deref()
		if families[i].QueueFlags&vk.QueueFlags(vk.QueueGraphicsBit) != 0 {
			return uint32(i), true
		}
	}
	return 0, false
}

func (p *Processor) memoryTypeIndex(req vk.MemoryRequirements, flags vk.MemoryPropertyFlagBits) (uint32, error) {
	idx, ok := processor.FindMemoryTypeIndex(req.MemoryTypeBits, p.memoryTypes, uint32(flags))
	if !ok {
		return 0, fmt.Errorf("no memory type for bits %#x with flags %#x", req.MemoryTypeBits, uint32(flags))
	}
	return idx, nil
}

// allocateBuffer (re)creates the host-visible readback buffer
func (p *Processor) allocateBuffer(size uint64) error {
	p.destroyBuffer()

	var buffer vk.Buffer
	if err := check(vk.CreateBuffer(p.device, &vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(size),
		Usage:       vk.BufferUsageFlags(vk.BufferUsageTransferDstBit),
		SharingMode: vk.SharingModeExclusive,
	}, nil, &buffer), "create readback buffer"); err != nil {
		return err
	}
	p.buffer = buffer

	var req vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(p.device, buffer, &req)
	req.Deref()

	idx, err := p.memoryTypeIndex(req, vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit)
	if err != nil {
		return err
	}

	var memory vk.DeviceMemory
	if err := check(vk.AllocateMemory(p.device, &vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  req.Size,
		MemoryTypeIndex: idx,
	}, nil, &memory), "allocate readback memory"); err != nil {
		return err
	}
	p.bufferMemory = memory

	if err := check(vk.BindBufferMemory(p.device, buffer, memory, 0), "bind readback memory"); err != nil {
		return err
	}
	p.bufferSize = size
	return nil
}

func (p *Processor) destroyBuffer() {
	if p.buffer != nil {
		vk.DestroyBuffer(p.device, p.buffer, nil)
		p.buffer = nil
	}
	if p.bufferMemory != nil {
		vk.FreeMemory(p.device, p.bufferMemory, nil)
		p.bufferMemory = nil
	}
	p.bufferSize = 0
}

// LumaPercent imports f, reduces it on the GPU and returns its perceived
// lightness. Errors are *processor.FrameError.
func (p *Processor) LumaPercent(f *frame.Object) (uint8, error) {
	if !f.Complete() {
		return 0, &processor.FrameError{Stage: processor.StageImport, Err: errIncomplete}
	}

	width, height, _ := processor.ImageDimensions(f.Width, f.Height)
	levels := p.opts.MipLevels(f.Width, f.Height)

	if err := p.ensureImage(width, height, levels); err != nil {
		return 0, &processor.FrameError{Stage: processor.StageAllocate, Err: err}
	}

	finalW, finalH := processor.MipExtent(width, height, levels-1)
	needed := uint64(finalW) * uint64(finalH) * bytesPerTexel
	if needed > p.bufferSize {
		p.log.Debug().
			Uint64("from", p.bufferSize).
			Uint64("to", needed).
			Msg("Growing readback buffer")
		if err := p.allocateBuffer(needed); err != nil {
			return 0, &processor.FrameError{Stage: processor.StageAllocate, Err: err}
		}
	}

	frameImage, frameMemory, err := p.importFrame(f)
	if err != nil {
		return 0, &processor.FrameError{Stage: processor.StageImport, Err: err}
	}

	if err := p.record(f, frameImage, levels); err != nil {
		p.destroyImage(frameImage, frameMemory)
		return 0, &processor.FrameError{Stage: processor.StageRecord, Err: err}
	}

	err = p.submit()
	p.destroyImage(frameImage, frameMemory)
	if err != nil {
		return 0, &processor.FrameError{Stage: processor.StageSubmit, Err: err}
	}

	pixels, err := p.readback(needed)
	if err != nil {
		return 0, &processor.FrameError{Stage: processor.StageReadback, Err: err}
	}

	luma, err := frame.PerceivedLightnessPercent(pixels, true, int(finalW)*int(finalH))
	if err != nil {
		return 0, &processor.FrameError{Stage: processor.StageReadback, Err: err}
	}
	return luma, nil
}

// ensureImage reallocates the transient image only when the target
// resolution changed.
func (p *Processor) ensureImage(width, height, levels uint32) error {
	if img := p.image; img != nil && img.width == width && img.height == height && img.mipLevels == levels {
		return nil
	}
	if p.image != nil {
		p.destroyImage(p.image.image, p.image.memory)
		p.image = nil
	}

	var image vk.Image
	if err := check(vk.CreateImage(p.device, &vk.ImageCreateInfo{
		SType:         vk.StructureTypeImageCreateInfo,
		ImageType:     vk.ImageType2d,
		Format:        vk.FormatR8g8b8a8Unorm,
		Extent:        vk.Extent3D{Width: width, Height: height, Depth: 1},
		MipLevels:     levels,
		ArrayLayers:   1,
		Samples:       vk.SampleCount1Bit,
		Tiling:        vk.ImageTilingOptimal,
		Usage:         vk.ImageUsageFlags(vk.ImageUsageTransferSrcBit | vk.ImageUsageTransferDstBit),
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}, nil, &image), "create image"); err != nil {
		return err
	}

	var req vk.MemoryRequirements
	vk.GetImageMemoryRequirements(p.device, image, &req)
	req.Deref()

	idx, err := p.memoryTypeIndex(req, vk.MemoryPropertyDeviceLocalBit)
	if err != nil {
		vk.DestroyImage(p.device, image, nil)
		return err
	}

	var memory vk.DeviceMemory
	if err := check(vk.AllocateMemory(p.device, &vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  req.Size,
		MemoryTypeIndex: idx,
	}, nil, &memory), "allocate image memory"); err != nil {
		vk.DestroyImage(p.device, image, nil)
		return err
	}

	if err := check(vk.BindImageMemory(p.device, image, memory, 0), "bind image memory"); err != nil {
		p.destroyImage(image, memory)
		return err
	}

	p.image = &transientImage{image: image, memory: memory, width: width, height: height, mipLevels: levels}
	p.log.Debug().
		Uint32("width", width).
		Uint32("height", height).
		Uint32("mip_levels", levels).
		Msg("Allocated transient image")
	return nil
}

func (p *Processor) destroyImage(image vk.Image, memory vk.DeviceMemory) {
	if image != nil {
		vk.DestroyImage(p.device, image, nil)
	}
	if memory != nil {
		vk.FreeMemory(p.device, memory, nil)
	}
}

// submit runs the recorded command buffer and waits on the fence. The fence
// is always left unsignaled and the queue idle, even after a timeout.
func (p *Processor) submit() error {
	err := check(vk.QueueSubmit(p.queue, 1, []vk.SubmitInfo{{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    p.commandBuffers,
	}}, p.fence), "queue submit")
	if err != nil {
		return err
	}

	timeout := p.opts.FenceTimeout
	if timeout <= 0 {
		timeout = time.Second
	}
	ret := vk.WaitForFences(p.device, 1, []vk.Fence{p.fence}, vk.True, uint64(timeout.Nanoseconds()))
	if ret == vk.Timeout {
		vk.QueueWaitIdle(p.queue)
		err = fmt.Errorf("fence not signaled within %s", timeout)
	} else {
		err = check(ret, "wait for fence")
	}

	if rerr := check(vk.ResetFences(p.device, 1, []vk.Fence{p.fence}), "reset fence"); err == nil {
		err = rerr
	}
	return err
}

// readback copies size bytes out of the mapped readback buffer
func (p *Processor) readback(size uint64) ([]byte, error) {
	var data unsafe.Pointer
	if err := check(vk.MapMemory(p.device, p.bufferMemory, 0, vk.DeviceSize(size), 0, &data), "map memory"); err != nil {
		return nil, err
	}
	defer vk.UnmapMemory(p.device, p.bufferMemory)

	pixels := make([]byte, size)
	copy(pixels, unsafe.Slice((*byte)(data), int(size)))
	return pixels, nil
}

// Close destroys every GPU object in reverse dependency order
func (p *Processor) Close() error {
	if p.device != nil {
		vk.DeviceWaitIdle(p.device)
		if p.image != nil {
			p.destroyImage(p.image.image, p.image.memory)
			p.image = nil
		}
		p.destroyBuffer()
		if p.fence != nil {
			vk.DestroyFence(p.device, p.fence, nil)
			p.fence = nil
		}
		if len(p.commandBuffers) > 0 {
			vk.FreeCommandBuffers(p.device, p.commandPool, uint32(len(p.commandBuffers)), p.commandBuffers)
			p.commandBuffers = nil
		}
		if p.commandPool != nil {
			vk.DestroyCommandPool(p.device, p.commandPool, nil)
			p.commandPool = nil
		}
		vk.DestroyDevice(p.device, nil)
		p.device = nil
	}
	if p.instance != nil {
		vk.DestroyInstance(p.instance, nil)
		p.instance = nil
	}
	return nil
}

func check(ret vk.Result, what string) error {
	if ret != vk.Success {
		return fmt.Errorf("%s: vulkan result %d", what, ret)
	}
	return nil
}
