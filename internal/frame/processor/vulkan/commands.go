package vulkan

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/bryanchriswhite/lumad/internal/frame"
	"github.com/bryanchriswhite/lumad/internal/frame/processor"
	vk "github.com/goki/vulkan"
	"golang.org/x/sys/unix"
)

// DRM fourcc codes for the formats wlroots exports
const (
	drmFormatXRGB8888 = 0x34325258 // XR24
	drmFormatARGB8888 = 0x34325241 // AR24
	drmFormatXBGR8888 = 0x34324258 // XB24
	drmFormatABGR8888 = 0x34324241 // AB24

	drmFormatModLinear = 0
)

// sourceFormat maps the DRM fourcc of a frame to the matching Vulkan format.
// The blit into the RGBA transient image swizzles BGR sources.
func sourceFormat(fourcc uint32) vk.Format {
	switch fourcc {
	case drmFormatXBGR8888, drmFormatABGR8888:
		return vk.FormatR8g8b8a8Unorm
	default:
		return vk.FormatB8g8r8a8Unorm
	}
}

// importFrame wraps plane 0 of f in a VkImage backed by the dma-buf.
// The descriptor is duplicated because a successful import transfers
// ownership to the driver.
//
// TODO: import non-linear modifiers through VK_EXT_image_drm_format_modifier
// instead of relying on the driver's optimal tiling matching the compositor's.
func (p *Processor) importFrame(f *frame.Object) (vk.Image, vk.DeviceMemory, error) {
	plane, ok := f.Plane(0)
	if !ok {
		return nil, nil, errors.New("plane 0 missing")
	}

	tiling := vk.ImageTilingOptimal
	if f.Modifier == drmFormatModLinear {
		tiling = vk.ImageTilingLinear
	}

	externalInfo, freeExternal := externalImageInfo()
	defer freeExternal()

	var image vk.Image
	if err := check(vk.CreateImage(p.device, &vk.ImageCreateInfo{
		SType:         vk.StructureTypeImageCreateInfo,
		PNext:         externalInfo,
		ImageType:     vk.ImageType2d,
		Format:        sourceFormat(f.Format),
		Extent:        vk.Extent3D{Width: f.Width, Height: f.Height, Depth: 1},
		MipLevels:     1,
		ArrayLayers:   1,
		Samples:       vk.SampleCount1Bit,
		Tiling:        tiling,
		Usage:         vk.ImageUsageFlags(vk.ImageUsageTransferSrcBit),
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}, nil, &image), "create frame image"); err != nil {
		return nil, nil, err
	}

	var req vk.MemoryRequirements
	vk.GetImageMemoryRequirements(p.device, image, &req)
	req.Deref()

	idx, err := p.memoryTypeIndex(req, vk.MemoryPropertyDeviceLocalBit)
	if err != nil {
		vk.DestroyImage(p.device, image, nil)
		return nil, nil, err
	}

	fd, err := unix.Dup(plane.FD)
	if err != nil {
		vk.DestroyImage(p.device, image, nil)
		return nil, nil, fmt.Errorf("dup plane descriptor: %w", err)
	}

	importInfo, freeImport := importMemoryInfo(fd)
	defer freeImport()

	size := vk.DeviceSize(plane.Size)
	if size < req.Size {
		size = req.Size
	}

	var memory vk.DeviceMemory
	if err := check(vk.AllocateMemory(p.device, &vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		PNext:           importInfo,
		AllocationSize:  size,
		MemoryTypeIndex: idx,
	}, nil, &memory), "import frame memory"); err != nil {
		unix.Close(fd)
		vk.DestroyImage(p.device, image, nil)
		return nil, nil, err
	}

	if err := check(vk.BindImageMemory(p.device, image, memory, vk.DeviceSize(plane.Offset)), "bind frame memory"); err != nil {
		p.destroyImage(image, memory)
		return nil, nil, err
	}
	return image, memory, nil
}

// externalImageInfo builds the C chain entry declaring a dma-buf backed
// image. Ref alone would return nil before the C struct is materialized.
func externalImageInfo() (unsafe.Pointer, func()) {
	info := vk.ExternalMemoryImageCreateInfo{
		SType:       vk.StructureTypeExternalMemoryImageCreateInfo,
		HandleTypes: vk.ExternalMemoryHandleTypeFlags(vk.ExternalMemoryHandleTypeDmaBufBit),
	}
	ref, _ := info.PassRef()
	return unsafe.Pointer(ref), info.Free
}

// importMemoryInfo builds the C chain entry importing fd as dma-buf memory.
// The driver owns fd once the allocation succeeds.
func importMemoryInfo(fd int) (unsafe.Pointer, func()) {
	info := vk.ImportMemoryFdInfo{
		SType:      vk.StructureTypeImportMemoryFdInfo,
		HandleType: vk.ExternalMemoryHandleTypeDmaBufBit,
		Fd:         int32(fd),
	}
	ref, _ := info.PassRef()
	return unsafe.Pointer(ref), info.Free
}

// record fills the command buffer with the whole reduction: transition,
// blit to mip 0 at half resolution, blit down the chain, copy the last level.
func (p *Processor) record(f *frame.Object, frameImage vk.Image, levels uint32) error {
	cmd := p.commandBuffers[0]
	if err := check(vk.BeginCommandBuffer(cmd, &vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}), "begin command buffer"); err != nil {
		return err
	}

	target := p.image.image
	width, height := p.image.width, p.image.height

	p.addBarrier(frameImage, 0, 1,
		vk.ImageLayoutUndefined, vk.ImageLayoutTransferSrcOptimal,
		0, vk.AccessTransferReadBit,
		vk.PipelineStageTopOfPipeBit)
	p.addBarrier(target, 0, levels,
		vk.ImageLayoutUndefined, vk.ImageLayoutTransferDstOptimal,
		0, vk.AccessTransferWriteBit,
		vk.PipelineStageTopOfPipeBit)

	p.blit(frameImage, f.Width, f.Height, 0, target, width, height, 0)

	for level := uint32(1); level < levels; level++ {
		srcW, srcH := processor.MipExtent(width, height, level-1)
		dstW, dstH := processor.MipExtent(width, height, level)

		p.addBarrier(target, level-1, 1,
			vk.ImageLayoutTransferDstOptimal, vk.ImageLayoutTransferSrcOptimal,
			vk.AccessTransferWriteBit, vk.AccessTransferReadBit,
			vk.PipelineStageTransferBit)
		p.blit(target, srcW, srcH, level-1, target, dstW, dstH, level)
	}

	last := levels - 1
	p.addBarrier(target, last, 1,
		vk.ImageLayoutTransferDstOptimal, vk.ImageLayoutTransferSrcOptimal,
		vk.AccessTransferWriteBit, vk.AccessTransferReadBit,
		vk.PipelineStageTransferBit)

	finalW, finalH := processor.MipExtent(width, height, last)
	p.copyMipmap(target, last, finalW, finalH)

	return check(vk.EndCommandBuffer(cmd), "end command buffer")
}

func (p *Processor) addBarrier(
	image vk.Image,
	baseMipLevel, mipLevels uint32,
	oldLayout, newLayout vk.ImageLayout,
	srcAccess, dstAccess vk.AccessFlagBits,
	srcStage vk.PipelineStageFlagBits,
) {
	barrier := vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		SrcAccessMask:       vk.AccessFlags(srcAccess),
		DstAccessMask:       vk.AccessFlags(dstAccess),
		OldLayout:           oldLayout,
		NewLayout:           newLayout,
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               image,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:     vk.ImageAspectFlags(vk.ImageAspectColorBit),
			BaseMipLevel:   baseMipLevel,
			LevelCount:     mipLevels,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
	}
	vk.CmdPipelineBarrier(p.commandBuffers[0],
		vk.PipelineStageFlags(srcStage), vk.PipelineStageFlags(vk.PipelineStageTransferBit),
		0, 0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{barrier})
}

func colorLayers(mipLevel uint32) vk.ImageSubresourceLayers {
	return vk.ImageSubresourceLayers{
		AspectMask:     vk.ImageAspectFlags(vk.ImageAspectColorBit),
		MipLevel:       mipLevel,
		BaseArrayLayer: 0,
		LayerCount:     1,
	}
}

func (p *Processor) blit(
	src vk.Image, srcWidth, srcHeight, srcMipLevel uint32,
	dst vk.Image, dstWidth, dstHeight, dstMipLevel uint32,
) {
	region := vk.ImageBlit{
		SrcSubresource: colorLayers(srcMipLevel),
		SrcOffsets: [2]vk.Offset3D{
			{X: 0, Y: 0, Z: 0},
			{X: int32(srcWidth), Y: int32(srcHeight), Z: 1},
		},
		DstSubresource: colorLayers(dstMipLevel),
		DstOffsets: [2]vk.Offset3D{
			{X: 0, Y: 0, Z: 0},
			{X: int32(dstWidth), Y: int32(dstHeight), Z: 1},
		},
	}
	vk.CmdBlitImage(p.commandBuffers[0],
		src, vk.ImageLayoutTransferSrcOptimal,
		dst, vk.ImageLayoutTransferDstOptimal,
		1, []vk.ImageBlit{region}, vk.FilterLinear)
}

// copyMipmap copies one mip level into the readback buffer and makes the
// write visible to the host once the fence signals.
func (p *Processor) copyMipmap(image vk.Image, mipLevel, width, height uint32) {
	cmd := p.commandBuffers[0]
	vk.CmdCopyImageToBuffer(cmd, image, vk.ImageLayoutTransferSrcOptimal, p.buffer, 1, []vk.BufferImageCopy{{
		BufferOffset:      0,
		BufferRowLength:   0,
		BufferImageHeight: 0,
		ImageSubresource:  colorLayers(mipLevel),
		ImageOffset:       vk.Offset3D{},
		ImageExtent:       vk.Extent3D{Width: width, Height: height, Depth: 1},
	}})

	barrier := vk.BufferMemoryBarrier{
		SType:               vk.StructureTypeBufferMemoryBarrier,
		SrcAccessMask:       vk.AccessFlags(vk.AccessTransferWriteBit),
		DstAccessMask:       vk.AccessFlags(vk.AccessHostReadBit),
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Buffer:              p.buffer,
		Offset:              0,
		Size:                vk.DeviceSize(p.bufferSize),
	}
	vk.CmdPipelineBarrier(cmd,
		vk.PipelineStageFlags(vk.PipelineStageTransferBit), vk.PipelineStageFlags(vk.PipelineStageHostBit),
		0, 0, nil, 1, []vk.BufferMemoryBarrier{barrier}, 0, nil)
}
