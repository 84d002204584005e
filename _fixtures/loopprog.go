package main

import (
	"fmt"
	"runtime"
	"time"
)

func init() {
	runtime.LockOSThread()
}

func loop() {
	i := 0
	for {
		i++
		if i%100 == 0 {
			fmt.Println(i)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func main() {
	fmt.Println("past main")
	loop()
}
