// Package eda is the exploratory analysis step of the pipeline.
//
// Training decides: it splits the label off, reports missing values,
// classifies columns as continuous or discrete by cardinality and picks a
// normalizing transform for every continuous column that fails the
// normality test. Trainer records those decisions for the artifact store.
//
// Prediction replays: Replayer reads the recorded decisions back and applies
// the same transforms unconditionally, without retesting.
package eda
