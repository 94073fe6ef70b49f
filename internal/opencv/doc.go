// Package opencv adapts gocv capture, highgui windows and video writers to
// the capture, display and pipeline interfaces. It is the only package that
// links against OpenCV.
package opencv
