// Package serialization implements the .born file format used for VAE
// weights and training checkpoints.
//
//	Format Structure (v2):
//	  [0x00: Magic "BORN"]
//	  [0x04: Version (uint32 LE) = 2]
//	  [0x08: Flags (uint32 LE)]
//	  [0x0C: Reserved]
//	  [0x10: Header size (uint64 LE)]
//	  [0x18: Data size (uint64 LE)]
//	  [0x20: SHA-256 of the data section (32 bytes)]
//	  [0x40: Header: JSON metadata]
//	  [Tensor data: float32 little-endian, 64-byte aligned]
//
// Tensors are written in state dict order, so a file lists parameters in
// the same order the model declares them.
//
// Example usage:
//
//	header := serialization.Header{ModelType: "VAE"}
//	if err := serialization.SaveFile("vae.born", stateDict, header); err != nil {
//	    return err
//	}
//
//	reader, err := serialization.NewBornReader("vae.born")
//	if err != nil {
//	    return err
//	}
//	defer reader.Close()
//	stateDict, err := reader.ReadStateDict()
package serialization
