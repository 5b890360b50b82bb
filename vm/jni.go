// Copyright 2024 The dexunpacker Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

//go:build cgo

package vm

/*
#cgo LDFLAGS: -ljvm

#include <jni.h>
#include <stdlib.h>

static jint attach_daemon(JavaVM *vm, JNIEnv **env) {
	return (*vm)->AttachCurrentThreadAsDaemon(vm, (void **)env, NULL);
}

static jint detach_thread(JavaVM *vm) {
	return (*vm)->DetachCurrentThread(vm);
}

static jboolean exception_check(JNIEnv *env) {
	return (*env)->ExceptionCheck(env);
}

static void exception_clear(JNIEnv *env) {
	(*env)->ExceptionClear(env);
}

static jclass find_class(JNIEnv *env, const char *name) {
	return (*env)->FindClass(env, name);
}

static jclass get_object_class(JNIEnv *env, jobject obj) {
	return (*env)->GetObjectClass(env, obj);
}

static jmethodID get_method_id(JNIEnv *env, jclass cls, const char *name, const char *sig) {
	return (*env)->GetMethodID(env, cls, name, sig);
}

static jmethodID get_static_method_id(JNIEnv *env, jclass cls, const char *name, const char *sig) {
	return (*env)->GetStaticMethodID(env, cls, name, sig);
}

static jobject call_object_method0(JNIEnv *env, jobject obj, jmethodID mid) {
	return (*env)->CallObjectMethod(env, obj, mid);
}

static jobject call_object_method1_string(JNIEnv *env, jobject obj, jmethodID mid, jstring arg) {
	return (*env)->CallObjectMethod(env, obj, mid, arg);
}

static jobject call_static_object_method0(JNIEnv *env, jclass cls, jmethodID mid) {
	return (*env)->CallStaticObjectMethod(env, cls, mid);
}

static jobject call_static_object_method_for_name(JNIEnv *env, jclass cls, jmethodID mid,
		jstring name, jboolean init, jobject loader) {
	return (*env)->CallStaticObjectMethod(env, cls, mid, name, init, loader);
}

static jstring new_string_utf(JNIEnv *env, const char *s) {
	return (*env)->NewStringUTF(env, s);
}

static jobject new_global_ref(JNIEnv *env, jobject obj) {
	return (*env)->NewGlobalRef(env, obj);
}
*/
import "C"

import "unsafe"

// JNIAdapter implements Adapter against a live JavaVM pointer handed to us
// by the host Zygisk module at post_app_specialize time. It is only built
// when CGO_ENABLED=1 and a JVM is linkable, matching the original
// implementation's reliance on the Android ART JNI surface.
type JNIAdapter struct {
	jvm *C.JavaVM
	env *C.JNIEnv

	javaLangClass C.jclass
}

// NewJNIAdapter wraps a raw JavaVM* obtained from the hosting process (the
// same pointer the original Zygisk module recreates from a raw pointer
// after its 10s startup delay).
func NewJNIAdapter(vmPtr unsafe.Pointer) *JNIAdapter {
	return &JNIAdapter{jvm: (*C.JavaVM)(vmPtr)}
}

func (a *JNIAdapter) AttachDaemon() error {
	var env *C.JNIEnv
	if rc := C.attach_daemon(a.jvm, &env); rc != 0 {
		return ErrFatal
	}
	a.env = env
	return nil
}

func (a *JNIAdapter) Detach() error {
	if rc := C.detach_thread(a.jvm); rc != 0 {
		return ErrFatal
	}
	a.env = nil
	return nil
}

// clearOrFatal clears a pending exception after a failed call, returning
// ErrFatal if the exception is still pending afterwards: the env is no
// longer in a state further JNI calls can trust.
func (a *JNIAdapter) clearOrFatal() error {
	if C.exception_check(a.env) == C.JNI_TRUE {
		C.exception_clear(a.env)
		if C.exception_check(a.env) == C.JNI_TRUE {
			return ErrFatal
		}
	}
	return ErrVMFault
}

func (a *JNIAdapter) FindClass(slashName string) (Class, error) {
	cname := C.CString(slashName)
	defer C.free(unsafe.Pointer(cname))

	cls := C.find_class(a.env, cname)
	if cls == nil {
		return nil, a.clearOrFatal()
	}
	return cls, nil
}

func (a *JNIAdapter) SystemClassLoader() (Loader, error) {
	loaderCls, err := a.FindClass("java/lang/ClassLoader")
	if err != nil {
		return nil, err
	}
	name, sig := cstr("getSystemClassLoader"), cstr("()Ljava/lang/ClassLoader;")
	defer C.free(unsafe.Pointer(name))
	defer C.free(unsafe.Pointer(sig))

	mid := C.get_static_method_id(a.env, loaderCls.(C.jclass), name, sig)
	if mid == nil {
		return nil, a.clearOrFatal()
	}
	obj := C.call_static_object_method0(a.env, loaderCls.(C.jclass), mid)
	if obj == nil {
		return nil, ErrNullResult
	}
	return a.newGlobalRef(obj)
}

func (a *JNIAdapter) AppClassLoader() (Loader, error) {
	atCls, err := a.FindClass("android/app/ActivityThread")
	if err != nil {
		return nil, err
	}

	currentMid := a.staticMethodID(atCls.(C.jclass), "currentActivityThread", "()Landroid/app/ActivityThread;")
	if currentMid == nil {
		return nil, a.clearOrFatal()
	}
	current := C.call_static_object_method0(a.env, atCls.(C.jclass), currentMid)
	if current == nil {
		return nil, ErrNullResult
	}

	getAppMid := a.methodID(atCls.(C.jclass), "getApplication", "()Landroid/app/Application;")
	if getAppMid == nil {
		return nil, a.clearOrFatal()
	}
	app := C.call_object_method0(a.env, current, getAppMid)
	if app == nil {
		return nil, ErrNullResult
	}

	appCls := C.get_object_class(a.env, app)
	getCLMid := a.methodID(appCls, "getClassLoader", "()Ljava/lang/ClassLoader;")
	if getCLMid == nil {
		return nil, a.clearOrFatal()
	}
	cl := C.call_object_method0(a.env, app, getCLMid)
	if cl == nil {
		return nil, ErrNullResult
	}
	return a.newGlobalRef(cl)
}

func (a *JNIAdapter) LoadClass(loader Loader, dotName string) (Class, error) {
	loaderObj := loader.(C.jobject)
	loaderCls := C.get_object_class(a.env, loaderObj)
	mid := a.methodID(loaderCls, "loadClass", "(Ljava/lang/String;)Ljava/lang/Class;")
	if mid == nil {
		return nil, a.clearOrFatal()
	}
	jname := a.newString(dotName)
	result := C.call_object_method1_string(a.env, loaderObj, mid, jname)
	if result == nil {
		return nil, a.clearOrFatal()
	}
	return C.jclass(result), nil
}

// ForName calls Class.forName(dotName, false, loader). initialize is always
// false: running a class's static initializer from a Zygisk-hosted daemon
// thread risks a crash, or tripping an anti-tamper check in the target
// app's <clinit>.
func (a *JNIAdapter) ForName(dotName string, loader Loader) (Class, error) {
	if a.javaLangClass == nil {
		cls, err := a.FindClass("java/lang/Class")
		if err != nil {
			return nil, err
		}
		a.javaLangClass = cls.(C.jclass)
	}
	mid := a.staticMethodID(a.javaLangClass, "forName",
		"(Ljava/lang/String;ZLjava/lang/ClassLoader;)Ljava/lang/Class;")
	if mid == nil {
		return nil, a.clearOrFatal()
	}
	jname := a.newString(dotName)
	result := C.call_static_object_method_for_name(
		a.env, a.javaLangClass, mid, jname, C.JNI_FALSE, loader.(C.jobject))
	if result == nil {
		return nil, a.clearOrFatal()
	}
	return C.jclass(result), nil
}

func (a *JNIAdapter) GetMethodID(cls Class, name, signature string) error {
	if a.methodID(cls.(C.jclass), name, signature) == nil {
		return a.clearOrFatal()
	}
	return nil
}

func (a *JNIAdapter) GetStaticMethodID(cls Class, name, signature string) error {
	if a.staticMethodID(cls.(C.jclass), name, signature) == nil {
		return a.clearOrFatal()
	}
	return nil
}

func (a *JNIAdapter) methodID(cls C.jclass, name, signature string) C.jmethodID {
	cname, csig := cstr(name), cstr(signature)
	defer C.free(unsafe.Pointer(cname))
	defer C.free(unsafe.Pointer(csig))
	return C.get_method_id(a.env, cls, cname, csig)
}

func (a *JNIAdapter) staticMethodID(cls C.jclass, name, signature string) C.jmethodID {
	cname, csig := cstr(name), cstr(signature)
	defer C.free(unsafe.Pointer(cname))
	defer C.free(unsafe.Pointer(csig))
	return C.get_static_method_id(a.env, cls, cname, csig)
}

func (a *JNIAdapter) newString(s string) C.jstring {
	cs := cstr(s)
	defer C.free(unsafe.Pointer(cs))
	return C.new_string_utf(a.env, cs)
}

func (a *JNIAdapter) newGlobalRef(obj C.jobject) (Loader, error) {
	if obj == nil {
		return nil, ErrNullResult
	}
	g := C.new_global_ref(a.env, obj)
	if g == nil {
		return nil, a.clearOrFatal()
	}
	return g, nil
}

func cstr(s string) *C.char {
	return C.CString(s)
}
