// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package vae trains a convolutional variational autoencoder on a directory
// of images and generates new images from it.
//
// # Overview
//
// Training reads every supported image under a directory, center-crops and
// resizes it to a square of Config.ImageSize pixels and optimizes
//
//	loss = reconstruction(x, x̂) + beta * KL(N(mean, exp(logVar)) || N(0, I))
//
// with Adam. Checkpoints are written to <out>/checkpoints as .born files and
// can resume training or feed generation.
//
// # Training
//
//	cfg := vae.DefaultConfig()
//	cfg.Epochs = 20
//	res, err := vae.Train(ctx, cfg, vae.TrainOptions{
//	    DataDir:   "./faces",
//	    OutputDir: "./run",
//	})
//
// # Generation
//
//	paths, err := vae.Generate(ctx, cfg, vae.GenerateOptions{OutputDir: "./run"})
//
// Generation decodes latent vectors drawn from the standard normal prior and
// writes <out>/sample_0000.png, <out>/sample_0001.png and so on.
//
// # Errors
//
// Failures match one of ErrShapeMismatch, ErrLoad, ErrDiverged or ErrIO
// through errors.Is.
package vae
