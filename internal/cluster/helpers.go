package cluster

import (
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
)

func corev1Protocol(p string) corev1.Protocol {
	return corev1.Protocol(p)
}

func intstrFromInt(i int) intstr.IntOrString {
	return intstr.FromInt(i)
}
