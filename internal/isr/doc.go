// Package isr provides the primitives that carry data from interrupt-style
// producers into scheduler tasks.
//
// Tasks run single-threaded on the dispatch goroutine; everything arriving
// from other goroutines (simulated interrupt handlers, config reload,
// feeders) must cross through one of these types. Each documents its
// producer/consumer discipline; Ring in particular is strictly
// single-producer/single-consumer.
//
// All operations are non-blocking. A full Ring drops and counts; a Latch
// or Mailbox overwrites.
package isr
