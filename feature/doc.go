// Package feature defines local image descriptors and the collaborators that
// produce them.
//
// Video decoding and keypoint extraction are external: a Decoder yields
// greyscale frames for a video path and an Extractor turns one frame into
// Features. FramePipeline chains the two into a Source. FileSource reads
// descriptors that were extracted ahead of time and dumped with DumpWriter.
//
// Every Descriptor handed out by this package is owned by its Feature; no
// slice aliases a decoder or extractor scratch buffer.
package feature
