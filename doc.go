// Package lerobot builds RLDS datasets from SO-101 and GELLO teleoperation
// recordings.
//
// Each raw episode file (a NumPy .npz archive or a structured .npy array)
// becomes one episode of ordered steps: camera frames, joint state, action,
// reward, position flags and the language instruction with its embedding.
// Episodes are written as TFRecord shards of tf.train.Example protos, laid
// out the way TensorFlow Datasets reads them.
//
// # Installation
//
//	go install github.com/gwillem/lerobot-rlds/cmd/rlds@latest
//
// # Usage
//
// Detect and calibrate a leader/follower arm pair, then record episodes:
//
//	rlds setup
//	rlds record --dir recordings
//
// Write a config and build the dataset:
//
//	rlds init
//	rlds build
//	rlds inspect tensorflow_datasets/so101/1.0.0/so101-train.tfrecord-00000-of-00001
//
// # Packages
//
//   - cmd/rlds: CLI with build, variants, inspect, list, init, setup and record commands
//   - pkg/schema: dataset variants and their feature declarations
//   - pkg/npy, pkg/rawep: raw episode files
//   - pkg/builder: the episode generator
//   - pkg/embed: instruction embedders
//   - pkg/tfexample, pkg/tfrecord, pkg/dataset: the on-disk dataset
//   - pkg/catalog, pkg/metrics, pkg/config: build bookkeeping and settings
//   - pkg/robot, pkg/teleop, pkg/record: arm control and recording
package lerobot
